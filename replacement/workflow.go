// Package replacement promotes or discards queued credential replacements in
// response to explicit holder decisions.
package replacement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/registry"
)

// Workflow applies accept/decline decisions to the registry and the wallet's
// record store. Declining never deletes anything: the holder keeps the old
// (possibly invalid) credential and may be re-offered a fresh replacement on a
// future pass.
type Workflow struct {
	store       credential.Store
	registry    *registry.Registry
	settleDelay time.Duration
	logger      zerolog.Logger
	sleep       func(context.Context, time.Duration)
}

type Option func(*Workflow)

// WithSettleDelay sets the pause between saving the new credential and
// deleting the superseded one, so in-flight UI reads of the old record drain
// first.
func WithSettleDelay(d time.Duration) Option {
	return func(w *Workflow) {
		w.settleDelay = d
	}
}

// WithSleep overrides the delay function (primarily for testing)
func WithSleep(sleep func(context.Context, time.Duration)) Option {
	return func(w *Workflow) {
		w.sleep = sleep
	}
}

func NewWorkflow(store credential.Store, reg *registry.Registry, logger zerolog.Logger, options ...Option) (*Workflow, error) {
	if store == nil {
		return nil, fmt.Errorf("[NewWorkflow] store is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("[NewWorkflow] registry is required")
	}
	w := &Workflow{
		store:       store,
		registry:    reg,
		settleDelay: 2 * time.Second,
		logger:      logger,
		sleep:       sleepContext,
	}
	for _, opt := range options {
		opt(w)
	}
	return w, nil
}

// AcceptNewCredential persists newCred and, when it is registered as the
// replacement for an old credential, deletes the old record and promotes the
// replacement in the registry. Without a queued mapping this is a plain
// "accept new credential" with no cleanup.
func (w *Workflow) AcceptNewCredential(ctx context.Context, newCred credential.Credential) error {
	newID := newCred.Ref().ID

	if err := w.store.Save(ctx, newCred); err != nil {
		return fmt.Errorf("save accepted credential %s: %w", newID, err)
	}

	oldID := w.registry.OldIDForReplacement(newID)
	if oldID == "" {
		w.logger.Info().Str("credentialId", newID).Msg("accepted credential (no replacement mapping)")
		w.registry.Upsert(newCred.Ref())
		return nil
	}

	w.logger.Info().Str("credentialId", newID).Str("replacesId", oldID).Msg("accepted replacement credential")

	// let in-flight reads of the old record drain before it disappears
	w.sleep(ctx, w.settleDelay)

	if err := w.store.Delete(ctx, oldID); err != nil {
		w.logger.Error().Err(err).Str("credentialId", oldID).Msg("deleting superseded credential failed")
	}

	w.registry.AcceptReplacement(oldID)
	return nil
}

// AcceptReplacementByOldID is the old-id keyed entry point: it resolves the
// queued replacement via resolve (the orchestrator's session cache) and runs
// the accept flow.
func (w *Workflow) AcceptReplacementByOldID(ctx context.Context, oldID string, resolve func(id string) credential.Credential) error {
	repl, ok := w.registry.Snapshot().Replacements[oldID]
	if !ok {
		return fmt.Errorf("no queued replacement for credential %s", oldID)
	}
	full := resolve(repl.ID)
	if full == nil {
		return fmt.Errorf("replacement credential %s not resolvable", repl.ID)
	}
	return w.AcceptNewCredential(ctx, full)
}

// DeclineReplacement discards the queued replacement for oldID in the
// registry only. The record store is never touched and oldID is not blocked,
// so it stays eligible for re-verification on the next pass.
func (w *Workflow) DeclineReplacement(oldID string) {
	w.logger.Info().Str("credentialId", oldID).Msg("declined replacement credential")
	w.registry.ClearExpired(oldID)
	// the queued re-issue blocked the old id as succeeded; lifting the block
	// keeps the credential eligible for a fresh offer on a future pass
	w.registry.Unblock(oldID)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
