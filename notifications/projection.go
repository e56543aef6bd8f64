// Package notifications derives user-facing notification items from registry
// state.
package notifications

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/registry"
)

// ItemType distinguishes the two outcomes that ever reach the UI.
type ItemType string

const (
	// ReplacementAvailable offers an accept/decline decision.
	ReplacementAvailable ItemType = "replacement_available"
	// CredentialExpired is informational only.
	CredentialExpired ItemType = "credential_expired"
)

// Item is one user-facing notification.
type Item struct {
	ID          string
	Type        ItemType
	OldID       string
	Replacement *credential.Ref // set for ReplacementAvailable
	ObservedAt  time.Time
}

type stamp struct {
	id string
	at time.Time
}

// Projection is the read side of the registry: it turns expired/replacement
// state into a notification list. Item identity and first-observed time are
// captured once per old/new-id pair so ordering stays stable across
// re-renders.
type Projection struct {
	lock    sync.Mutex
	state   registry.State
	stamps  map[string]stamp
	nowTime func() time.Time
	onItems []func([]Item)
}

type Option func(*Projection)

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(p *Projection) {
		p.nowTime = nowFunc
	}
}

// NewProjection subscribes to reg and keeps its view current for the session.
func NewProjection(reg *registry.Registry, options ...Option) *Projection {
	p := &Projection{
		state:   reg.Snapshot(),
		stamps:  map[string]stamp{},
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	reg.Subscribe(p.apply)
	return p
}

// OnItems registers fn to receive the refreshed item list after every
// registry change.
func (p *Projection) OnItems(fn func([]Item)) {
	p.lock.Lock()
	p.onItems = append(p.onItems, fn)
	p.lock.Unlock()
}

func (p *Projection) apply(s registry.State) {
	p.lock.Lock()
	p.state = s
	p.refreshStamps(s)
	items := p.items()
	fns := make([]func([]Item), len(p.onItems))
	copy(fns, p.onItems)
	p.lock.Unlock()

	for _, fn := range fns {
		fn(items)
	}
}

// refreshStamps mints an id and observed-at for every newly seen old/new-id
// pair and drops stamps for ids no longer expired.
func (p *Projection) refreshStamps(s registry.State) {
	active := map[string]bool{}
	for _, oldID := range s.Expired {
		key := pairKey(oldID, s.Replacements)
		active[key] = true
		if _, ok := p.stamps[key]; !ok {
			p.stamps[key] = stamp{id: uuid.NewString(), at: p.nowTime()}
		}
	}
	for key := range p.stamps {
		if !active[key] {
			delete(p.stamps, key)
		}
	}
}

func pairKey(oldID string, replacements map[string]credential.Ref) string {
	if repl, ok := replacements[oldID]; ok {
		return oldID + "/" + repl.ID
	}
	return oldID + "/"
}

// Items returns the current notification list, newest first.
func (p *Projection) Items() []Item {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.items()
}

func (p *Projection) items() []Item {
	items := make([]Item, 0, len(p.state.Expired))
	for _, oldID := range p.state.Expired {
		key := pairKey(oldID, p.state.Replacements)
		st := p.stamps[key]
		item := Item{
			ID:         st.id,
			Type:       CredentialExpired,
			OldID:      oldID,
			ObservedAt: st.at,
		}
		if repl, ok := p.state.Replacements[oldID]; ok {
			item.Type = ReplacementAvailable
			r := repl
			item.Replacement = &r
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].ObservedAt.Equal(items[j].ObservedAt) {
			return items[i].ObservedAt.After(items[j].ObservedAt)
		}
		return items[i].OldID < items[j].OldID
	})
	return items
}
