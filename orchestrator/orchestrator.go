// Package orchestrator schedules and drives the credential verify/refresh/
// re-issue pipeline, writing outcomes into the shared registry.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/registry"
	"github.com/jrsteele09/go-wallet-refresh/session"
	"github.com/jrsteele09/go-wallet-refresh/token"
)

// Verifier reports whether a credential is still valid, failing closed.
type Verifier interface {
	Verify(ctx context.Context, cred credential.Credential) bool
}

// Refresher exchanges a stored refresh token for a fresh grant.
type Refresher interface {
	Refresh(ctx context.Context, meta *credential.RefreshMetadata) (*token.Grant, error)
}

// Reissuer requests one new credential instance superseding an invalid one.
type Reissuer interface {
	Reissue(ctx context.Context, original credential.Credential, grant *token.Grant) (credential.Credential, error)
}

// ListRecordsFunc supplies the candidate credentials for one pass.
type ListRecordsFunc func(ctx context.Context) ([]credential.Credential, error)

// Deps are the pipeline collaborators. All are required.
type Deps struct {
	Verifier  Verifier
	Refresher Refresher
	Reissuer  Reissuer
}

// Options configure scheduling. Nil pointer fields in Configure mean "leave
// unchanged"; an explicit zero Interval disables the timer.
type Options struct {
	Interval    *time.Duration
	AutoStart   *bool
	ListRecords ListRecordsFunc
	OnError     func(error)
}

type settings struct {
	interval    time.Duration
	autoStart   bool
	listRecords ListRecordsFunc
	onError     func(error)
}

// Orchestrator owns the recurring refresh timer and the per-credential state
// machine. The batch loop is strictly sequential: one credential, one network
// pipeline at a time. Wallet credential counts are small, so correctness wins
// over throughput here.
type Orchestrator struct {
	logger   zerolog.Logger
	registry *registry.Registry
	deps     Deps

	lock       sync.Mutex
	opts       settings
	intervalOn bool
	ticker     *time.Ticker
	tickerDone chan struct{}
	sess       *session.Session

	runLock sync.Mutex
	running bool

	recentlyIssued gcache.Cache
	nowTime        func() time.Time
}

type Option func(*Orchestrator)

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(o *Orchestrator) {
		o.nowTime = nowFunc
	}
}

// WithRecentlyIssuedCap bounds the session cache of just-issued credentials.
func WithRecentlyIssuedCap(cap int) Option {
	return func(o *Orchestrator) {
		o.recentlyIssued = gcache.New(cap).LRU().Build()
	}
}

// New wires the orchestrator to the registry and the readiness bridge. If the
// session is not ready yet, auto-start is deferred until the bridge fires.
func New(logger zerolog.Logger, reg *registry.Registry, bridge *session.Bridge, deps Deps, opts Options, options ...Option) (*Orchestrator, error) {
	if reg == nil {
		return nil, fmt.Errorf("[orchestrator.New] registry is required")
	}
	if bridge == nil {
		return nil, fmt.Errorf("[orchestrator.New] session bridge is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("[orchestrator.New] verifier is required")
	}
	if deps.Refresher == nil {
		return nil, fmt.Errorf("[orchestrator.New] refresher is required")
	}
	if deps.Reissuer == nil {
		return nil, fmt.Errorf("[orchestrator.New] reissuer is required")
	}

	o := &Orchestrator{
		logger:   logger,
		registry: reg,
		deps:     deps,
		opts: settings{
			interval:  15 * time.Minute,
			autoStart: true,
			onError:   func(error) {},
		},
		recentlyIssued: gcache.New(32).LRU().Build(),
		nowTime:        time.Now,
	}
	o.applyOptions(opts)
	for _, opt := range options {
		opt(o)
	}

	logger.Info().Dur("interval", o.opts.interval).Bool("autoStart", o.opts.autoStart).
		Msg("refresh orchestrator initialized")

	bridge.OnReady(func(s *session.Session) {
		o.lock.Lock()
		o.sess = s
		autoStart := o.opts.autoStart && o.opts.interval > 0
		o.lock.Unlock()

		o.logger.Info().Msg("session ready")
		if autoStart {
			o.Start()
		}
	}, true)

	return o, nil
}

func (o *Orchestrator) applyOptions(next Options) {
	if next.Interval != nil {
		o.opts.interval = *next.Interval
	}
	if next.AutoStart != nil {
		o.opts.autoStart = *next.AutoStart
	}
	if next.ListRecords != nil {
		o.opts.listRecords = next.ListRecords
	}
	if next.OnError != nil {
		o.opts.onError = next.OnError
	}
}

// Configure merges next into the current settings and reconciles the timer:
// restart when the interval changed while armed, disarm when intervals were
// disabled, arm when intervals were enabled (deferred when the session is not
// ready yet; the readiness callback will start the timer).
func (o *Orchestrator) Configure(next Options) {
	o.lock.Lock()
	prevOn := o.intervalOn
	prevInterval := o.opts.interval
	o.applyOptions(next)
	interval := o.opts.interval
	autoStart := o.opts.autoStart
	ready := o.sess != nil
	o.lock.Unlock()

	o.logger.Info().Dur("interval", interval).Bool("autoStart", autoStart).Msg("refresh orchestrator configured")

	switch {
	case prevOn && interval != prevInterval:
		o.Stop()
		if interval > 0 {
			o.Start()
		}
	case prevOn && interval <= 0:
		o.Stop()
	case !prevOn && interval > 0 && autoStart:
		// covers both a newly-enabled interval and autoStart toggling on
		if ready {
			o.Start()
		}
	}
}

// IsRunning reports whether a pass is in progress.
func (o *Orchestrator) IsRunning() bool {
	o.runLock.Lock()
	defer o.runLock.Unlock()
	return o.running
}

// IsArmed reports whether the interval timer is armed.
func (o *Orchestrator) IsArmed() bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.intervalOn
}

// Start arms the interval timer. No-op when already armed or the interval is
// unset.
func (o *Orchestrator) Start() {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.intervalOn || o.opts.interval <= 0 {
		return
	}
	o.logger.Info().Dur("interval", o.opts.interval).Msg("refresh interval started")
	o.intervalOn = true
	o.ticker = time.NewTicker(o.opts.interval)
	o.tickerDone = make(chan struct{})

	go func(ticker *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-ticker.C:
				o.RunOnce(context.Background(), "interval")
			case <-done:
				return
			}
		}
	}(o.ticker, o.tickerDone)
}

// Stop disarms the timer for future passes. An in-flight pass runs to
// completion.
func (o *Orchestrator) Stop() {
	o.lock.Lock()
	defer o.lock.Unlock()
	if !o.intervalOn {
		return
	}
	o.logger.Info().Msg("refresh interval stopped")
	o.ticker.Stop()
	close(o.tickerDone)
	o.ticker = nil
	o.tickerDone = nil
	o.intervalOn = false
}

// RunOnce executes one full pass over the candidate credentials. A pass
// requested while another runs is dropped, not queued.
func (o *Orchestrator) RunOnce(ctx context.Context, reason string) {
	o.runLock.Lock()
	if o.running {
		o.runLock.Unlock()
		o.logger.Warn().Str("reason", reason).Msg("refresh pass skipped: already running")
		return
	}
	o.running = true
	o.runLock.Unlock()

	defer func() {
		o.runLock.Lock()
		o.running = false
		o.runLock.Unlock()
	}()

	list := o.listRecordsFunc()
	if list == nil {
		o.logger.Warn().Str("reason", reason).Msg("refresh pass skipped: session not ready")
		return
	}

	o.logger.Info().Str("reason", reason).Msg("refresh pass starting")

	records, err := list(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("refresh pass aborted: listing credentials failed")
		o.errorHook()(err)
		return
	}
	o.logger.Info().Int("count", len(records)).Msg("credential records found")

	for _, rec := range records {
		if err := o.safeRefresh(ctx, rec); err != nil {
			o.logger.Error().Err(err).Str("credentialId", rec.Ref().ID).Msg("credential refresh failed")
			o.errorHook()(err)
		}
	}

	o.registry.SetLastSweep(o.nowTime())
	o.logger.Info().Msg("refresh pass completed")
}

func (o *Orchestrator) listRecordsFunc() ListRecordsFunc {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.opts.listRecords != nil {
		return o.opts.listRecords
	}
	if o.sess != nil && o.sess.Store != nil {
		return o.sess.Store.List
	}
	return nil
}

func (o *Orchestrator) errorHook() func(error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.opts.onError
}

func (o *Orchestrator) store() credential.Store {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.sess == nil {
		return nil
	}
	return o.sess.Store
}

// ResolveFull returns a just-issued replacement by id from the session cache,
// so the UI can open an offer screen without a store round-trip.
func (o *Orchestrator) ResolveFull(id string) credential.Credential {
	v, err := o.recentlyIssued.Get(id)
	if err != nil {
		return nil
	}
	cred, ok := v.(credential.Credential)
	if !ok {
		return nil
	}
	return cred
}

// safeRefresh isolates one credential's pipeline: a panic or error must never
// abort the pass for unrelated credentials.
func (o *Orchestrator) safeRefresh(ctx context.Context, rec credential.Credential) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh pipeline panicked: %v", r)
		}
	}()
	o.refreshRecord(ctx, rec)
	return nil
}

// refreshRecord drives one credential through the per-pass state machine:
// skip-check, claim, verify, refresh token, re-issue.
func (o *Orchestrator) refreshRecord(ctx context.Context, rec credential.Credential) {
	ref := rec.Ref()
	id := ref.ID

	if o.registry.ShouldSkip(id) {
		o.logger.Info().Str("credentialId", id).Msg("skipping credential (blocked/expired/in-flight)")
		return
	}

	o.registry.Upsert(ref)

	if !o.registry.MarkRefreshing(id) {
		o.logger.Info().Str("credentialId", id).Msg("skipping credential (lost claim)")
		return
	}
	defer o.registry.ClearRefreshing(id)

	o.logger.Info().Str("credentialId", id).Msg("checking credential")

	if o.deps.Verifier.Verify(ctx, rec) {
		o.logger.Info().Str("credentialId", id).Msg("credential valid")
		// a credential previously thought expired is eligible again; it stays
		// unblocked so future passes keep checking it
		o.registry.ClearExpired(id)
		return
	}

	meta := rec.RefreshMetadata()
	if err := o.persistCheckResult(ctx, rec, credential.CheckInvalid); err != nil {
		o.logger.Error().Err(err).Str("credentialId", id).Msg("persisting invalid check result failed")
		o.registry.BlockAsFailed(id, err.Error())
		return
	}

	o.logger.Info().Str("credentialId", id).Msg("credential invalid, attempting re-issue")

	grant, err := o.deps.Refresher.Refresh(ctx, meta)
	if err != nil {
		o.logger.Warn().Err(err).Str("credentialId", id).Msg("token refresh failed")
		o.registry.BlockAsFailed(id, err.Error())
		return
	}

	// a rotated refresh token is persisted before any re-issuance attempt: a
	// failed re-issuance must not lose the only valid refresh token
	if grant.Rotated(meta.RefreshToken) {
		meta.RefreshToken = grant.RefreshToken
		if err := o.persistMetadata(ctx, id, meta); err != nil {
			o.logger.Error().Err(err).Str("credentialId", id).Msg("persisting rotated refresh token failed")
			o.registry.BlockAsFailed(id, err.Error())
			return
		}
	}

	newCred, err := o.deps.Reissuer.Reissue(ctx, rec, grant)
	if err != nil {
		o.logger.Warn().Err(err).Str("credentialId", id).Msg("re-issue failed")
		o.registry.BlockAsFailed(id, err.Error())
		if perr := o.persistCheckResult(ctx, rec, credential.CheckInvalid); perr != nil {
			o.logger.Error().Err(perr).Str("credentialId", id).Msg("persisting check result failed")
		}
		return
	}

	newRef := newCred.Ref()
	o.logger.Info().Str("credentialId", id).Str("newCredentialId", newRef.ID).Msg("replacement credential queued")
	o.registry.MarkExpiredWithReplacement(id, newRef)
	o.registry.BlockAsSucceeded(id)
	if err := o.recentlyIssued.Set(newRef.ID, newCred); err != nil {
		o.logger.Error().Err(err).Str("credentialId", newRef.ID).Msg("caching re-issued credential failed")
	}
}

func (o *Orchestrator) persistCheckResult(ctx context.Context, rec credential.Credential, result credential.CheckResult) error {
	meta := rec.RefreshMetadata()
	if meta == nil {
		return nil
	}
	meta.LastCheckedAt = o.nowTime()
	meta.LastCheckResult = result
	meta.AttemptCount++
	return o.persistMetadata(ctx, rec.Ref().ID, meta)
}

func (o *Orchestrator) persistMetadata(ctx context.Context, id string, meta *credential.RefreshMetadata) error {
	store := o.store()
	if store == nil {
		return fmt.Errorf("no store available for credential %s", id)
	}
	return store.UpdateRefreshMetadata(ctx, id, meta)
}
