// Package conversation persists suspended multi-turn state between a
// NeedsInput reply and the user's next utterance. Entries are keyed by the
// root lineage id of the conversation, bounded by an LRU cap and expired by
// TTL; the authoritative snapshot lives here, never in client-provided
// context.
package conversation

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/taskmesh/logging"
)

// State is a suspended agent turn awaiting user input.
type State struct {
	AgentID   string
	StateTag  string
	Snapshot  map[string]any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL at the given instant.
func (s *State) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Options configures a Store.
type Options struct {
	// MaxEntries bounds the store; least recently used entries are
	// evicted beyond it.
	MaxEntries int
	// TTL is how long a suspended conversation stays resumable. Refreshed
	// on each resumption.
	TTL time.Duration
	// ReapInterval is how often the background reaper scans for expired
	// entries. Set <= 0 to disable the reaper (expiry still applies
	// lazily on Get).
	ReapInterval time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger

	clock func() time.Time // test hook
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		MaxEntries:   1000,
		TTL:          10 * time.Minute,
		ReapInterval: time.Minute,
	}
}

// Store maps root lineage ids to suspended conversation state.
type Store struct {
	opts  Options
	cache *lru.Cache[string, *State]

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore creates a Store and starts its reaper (unless disabled).
func NewStore(optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.clock == nil {
		opts.clock = time.Now
	}

	cache, err := lru.New[string, *State](opts.MaxEntries)
	if err != nil {
		return nil, err
	}

	s := &Store{opts: opts, cache: cache, stop: make(chan struct{})}
	if opts.ReapInterval > 0 {
		go s.reapLoop()
	}
	return s, nil
}

// Upsert records (or refreshes) the suspended state for a lineage. The TTL
// restarts from now.
func (s *Store) Upsert(rootLineageID, agentID, stateTag string, snapshot map[string]any) {
	now := s.opts.clock()
	s.cache.Add(rootLineageID, &State{
		AgentID:   agentID,
		StateTag:  stateTag,
		Snapshot:  snapshot,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	})
}

// Get returns the live state for a lineage. Expired entries are removed and
// reported as absent, so a stale resumption is treated as a fresh task even
// between reap ticks.
func (s *Store) Get(rootLineageID string) (*State, bool) {
	st, ok := s.cache.Get(rootLineageID)
	if !ok {
		return nil, false
	}
	if st.Expired(s.opts.clock()) {
		s.cache.Remove(rootLineageID)
		return nil, false
	}
	return st, true
}

// Touch restarts the TTL of a live entry without changing its content.
// Missing or already expired entries are left alone.
func (s *Store) Touch(rootLineageID string) {
	st, ok := s.cache.Get(rootLineageID)
	if !ok {
		return
	}
	now := s.opts.clock()
	if st.Expired(now) {
		return
	}
	refreshed := *st
	refreshed.ExpiresAt = now.Add(s.opts.TTL)
	s.cache.Add(rootLineageID, &refreshed)
}

// Clear removes the state for a lineage.
func (s *Store) Clear(rootLineageID string) {
	s.cache.Remove(rootLineageID)
}

// Len returns the number of stored entries, including not-yet-reaped
// expired ones.
func (s *Store) Len() int { return s.cache.Len() }

// Close stops the reaper. Idempotent.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) reapLoop() {
	ticker := time.NewTicker(s.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

func (s *Store) reap() {
	now := s.opts.clock()
	removed := 0
	for _, key := range s.cache.Keys() {
		if st, ok := s.cache.Peek(key); ok && st.Expired(now) {
			s.cache.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		s.opts.Logger.Debug("conversation reaper removed %d expired entries", removed)
	}
}
