// Package session signals wallet readiness (unlock / agent initialization) to
// components that must defer work until the wallet can serve records.
package session

import (
	"sync"

	"github.com/jrsteele09/go-wallet-refresh/credential"
)

// Session is the handle a ready wallet exposes to this subsystem.
type Session struct {
	Store credential.Store
}

// Bridge fans a readiness signal out to registered callbacks. Callbacks
// registered after the session is already ready can ask for an immediate
// replay.
type Bridge struct {
	lock      sync.Mutex
	session   *Session
	callbacks []func(*Session)
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// OnReady registers cb to run when the session becomes ready. With replay set
// and a session already present, cb runs immediately.
func (b *Bridge) OnReady(cb func(*Session), replay bool) {
	b.lock.Lock()
	current := b.session
	b.callbacks = append(b.callbacks, cb)
	b.lock.Unlock()

	if replay && current != nil {
		cb(current)
	}
}

// SetReady publishes the session and fires every registered callback.
func (b *Bridge) SetReady(s *Session) {
	b.lock.Lock()
	b.session = s
	cbs := make([]func(*Session), len(b.callbacks))
	copy(cbs, b.callbacks)
	b.lock.Unlock()

	for _, cb := range cbs {
		cb(s)
	}
}

// Clear drops the session (wallet lock). Callbacks stay registered for the
// next SetReady.
func (b *Bridge) Clear() {
	b.lock.Lock()
	b.session = nil
	b.lock.Unlock()
}

// Current returns the session, or nil when the wallet is not ready.
func (b *Bridge) Current() *Session {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.session
}
