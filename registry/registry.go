package registry

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-wallet-refresh/credential"
)

// BlockReason explains why the orchestrator must not retry a credential again
// this session.
type BlockReason string

const (
	BlockSucceeded BlockReason = "succeeded"
	BlockFailed    BlockReason = "failed"
)

// BlockEntry is a permanent (until Unblock or process restart) marker for one
// credential.
type BlockEntry struct {
	Reason BlockReason
	At     time.Time
	Error  string
}

// State is a snapshot of the registry. The registry never mutates a published
// snapshot (every mutation clones first), so holders always see a fully
// consistent view. Treat snapshots as read-only.
type State struct {
	// ByID holds every credential the orchestrator knows about.
	ByID map[string]credential.Ref
	// Expired is the ordered set of ids confirmed invalid, awaiting a decision.
	Expired []string
	// Replacements maps an expired old id to the queued replacement ref.
	Replacements map[string]credential.Ref
	// Refreshing marks ids currently mid-pipeline.
	Refreshing map[string]bool
	// Blocked holds ids the scheduler must never retry again this session.
	Blocked map[string]BlockEntry
	// LastSweepAt is when the last full pass completed, zero if never.
	LastSweepAt time.Time
}

// Subscriber is called with the full state after every mutation.
type Subscriber func(State)

// Registry is the single shared mutable structure of the refresh subsystem.
// Every mutation builds a fresh snapshot under the writer lock and swaps it in
// whole, so readers never observe a partially-updated state.
type Registry struct {
	lock        sync.RWMutex
	state       State
	subscribers []Subscriber

	nowTime func() time.Time
}

type Option func(*Registry)

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(r *Registry) {
		r.nowTime = nowFunc
	}
}

func New(options ...Option) *Registry {
	r := &Registry{
		state:   emptyState(),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func emptyState() State {
	return State{
		ByID:         map[string]credential.Ref{},
		Expired:      []string{},
		Replacements: map[string]credential.Ref{},
		Refreshing:   map[string]bool{},
		Blocked:      map[string]BlockEntry{},
	}
}

// Subscribe registers fn to be called with the full state after every
// mutation. There is no unsubscribe; subscriptions live for the session.
func (r *Registry) Subscribe(fn Subscriber) {
	r.lock.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.lock.Unlock()
}

// Snapshot returns the current state.
func (r *Registry) Snapshot() State {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.state
}

// mutate applies fn to a deep copy of the state, swaps the copy in, and
// notifies subscribers outside the lock.
func (r *Registry) mutate(fn func(s *State)) {
	r.lock.Lock()
	next := clone(r.state)
	fn(&next)
	r.state = next
	subs := make([]Subscriber, len(r.subscribers))
	copy(subs, r.subscribers)
	r.lock.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

func clone(s State) State {
	next := State{
		ByID:         make(map[string]credential.Ref, len(s.ByID)),
		Expired:      make([]string, len(s.Expired)),
		Replacements: make(map[string]credential.Ref, len(s.Replacements)),
		Refreshing:   make(map[string]bool, len(s.Refreshing)),
		Blocked:      make(map[string]BlockEntry, len(s.Blocked)),
		LastSweepAt:  s.LastSweepAt,
	}
	for k, v := range s.ByID {
		next.ByID[k] = v
	}
	copy(next.Expired, s.Expired)
	for k, v := range s.Replacements {
		next.Replacements[k] = v
	}
	for k, v := range s.Refreshing {
		next.Refreshing[k] = v
	}
	for k, v := range s.Blocked {
		next.Blocked[k] = v
	}
	return next
}

// Upsert inserts or overwrites the ref for its id. Idempotent.
func (r *Registry) Upsert(ref credential.Ref) {
	r.mutate(func(s *State) {
		s.ByID[ref.ID] = ref
	})
}

// MarkRefreshing claims id for a pipeline run. It reports whether the claim
// was newly acquired; a second caller, or any caller while id is blocked,
// gets false and must not proceed.
func (r *Registry) MarkRefreshing(id string) bool {
	claimed := false
	r.mutate(func(s *State) {
		if s.Refreshing[id] {
			return
		}
		if _, blocked := s.Blocked[id]; blocked {
			return
		}
		s.Refreshing[id] = true
		claimed = true
	})
	return claimed
}

// ClearRefreshing releases the in-flight marker. Clearing an absent id is a
// no-op.
func (r *Registry) ClearRefreshing(id string) {
	r.mutate(func(s *State) {
		delete(s.Refreshing, id)
	})
}

// MarkExpired flags id as confirmed invalid with no replacement queued. The
// projection surfaces this as an informational "credential expired" item.
func (r *Registry) MarkExpired(id string) {
	r.mutate(func(s *State) {
		if !contains(s.Expired, id) {
			s.Expired = append(s.Expired, id)
		}
	})
}

// MarkExpiredWithReplacement records that old id has a replacement queued.
func (r *Registry) MarkExpiredWithReplacement(oldID string, replacement credential.Ref) {
	r.mutate(func(s *State) {
		if !contains(s.Expired, oldID) {
			s.Expired = append(s.Expired, oldID)
		}
		s.Replacements[oldID] = replacement
	})
}

// AcceptReplacement promotes the queued replacement for oldID: the new ref
// enters ByID, oldID leaves ByID/Expired/Replacements, and oldID is blocked as
// succeeded so it is never refreshed again this session. All of that happens
// in one snapshot swap. Without a queued replacement this is a no-op.
func (r *Registry) AcceptReplacement(oldID string) {
	r.mutate(func(s *State) {
		repl, ok := s.Replacements[oldID]
		if !ok {
			return
		}
		delete(s.ByID, oldID)
		s.ByID[repl.ID] = repl
		delete(s.Replacements, oldID)
		s.Expired = remove(s.Expired, oldID)
		delete(s.Refreshing, oldID)
		s.Blocked[oldID] = BlockEntry{Reason: BlockSucceeded, At: r.nowTime()}
	})
}

// ClearExpired removes the expired tag for id, dropping any queued replacement
// with it so a replacement is only ever queued for an expired credential. Used
// when a later check finds the credential valid again, and by the decline
// workflow.
func (r *Registry) ClearExpired(id string) {
	r.mutate(func(s *State) {
		s.Expired = remove(s.Expired, id)
		delete(s.Replacements, id)
	})
}

// BlockAsSucceeded marks id permanently handled with a positive outcome.
func (r *Registry) BlockAsSucceeded(id string) {
	r.mutate(func(s *State) {
		delete(s.Refreshing, id)
		s.Blocked[id] = BlockEntry{Reason: BlockSucceeded, At: r.nowTime()}
	})
}

// BlockAsFailed marks id permanently failed so the issuer is not hammered
// again this session.
func (r *Registry) BlockAsFailed(id string, errMsg string) {
	r.mutate(func(s *State) {
		delete(s.Refreshing, id)
		s.Blocked[id] = BlockEntry{Reason: BlockFailed, At: r.nowTime(), Error: errMsg}
	})
}

// Unblock removes any block for id (manual override).
func (r *Registry) Unblock(id string) {
	r.mutate(func(s *State) {
		delete(s.Blocked, id)
	})
}

// ShouldSkip is the single gate the orchestrator consults before starting work
// on a credential: in-flight, already expired, or blocked.
func (r *Registry) ShouldSkip(id string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.state.Refreshing[id] {
		return true
	}
	if contains(r.state.Expired, id) {
		return true
	}
	if _, ok := r.state.Blocked[id]; ok {
		return true
	}
	return false
}

// OldIDForReplacement returns the old id a just-issued replacement id is
// queued for, or "" when it is not a queued replacement.
func (r *Registry) OldIDForReplacement(replacementID string) string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for oldID, repl := range r.state.Replacements {
		if repl.ID == replacementID {
			return oldID
		}
	}
	return ""
}

// SetLastSweep records when the last full pass completed.
func (r *Registry) SetLastSweep(at time.Time) {
	r.mutate(func(s *State) {
		s.LastSweepAt = at
	})
}

// Reset clears all state (tests and session teardown).
func (r *Registry) Reset() {
	r.mutate(func(s *State) {
		*s = emptyState()
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
