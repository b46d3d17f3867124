package engine

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

const dedupKeyMaxLen = 100

// normalizeContent derives the dedup key for a task: lowercased,
// punctuation stripped, whitespace collapsed, truncated to 100 runes.
func normalizeContent(content string) string {
	var sb strings.Builder
	sb.Grow(len(content))
	lastSpace := true
	for _, r := range strings.ToLower(content) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			sb.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				sb.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	key := strings.TrimSpace(sb.String())
	runes := []rune(key)
	if len(runes) > dedupKeyMaxLen {
		key = string(runes[:dedupKeyMaxLen])
	}
	return key
}

// dedupTracker suppresses duplicate submissions of the same normalized
// content within a sliding window. An entry is recorded tentatively when a
// dispatch begins, so a duplicate arriving while the first is still in
// flight is also suppressed; commit refreshes the window on a terminal
// Success and rollback withdraws the entry so a failed task can be retried
// immediately.
type dedupTracker struct {
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func newDedupTracker(window time.Duration, clock func() time.Time) *dedupTracker {
	if clock == nil {
		clock = time.Now
	}
	return &dedupTracker{window: window, clock: clock, entries: make(map[string]time.Time)}
}

// begin reports whether key is a live duplicate. When it is not, the key is
// recorded tentatively and false is returned.
func (d *dedupTracker) begin(key string) (duplicate bool) {
	if key == "" {
		return false
	}
	now := d.clock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.entries[key]; ok && now.Sub(at) < d.window {
		return true
	}
	d.entries[key] = now
	d.prune(now)
	return false
}

// commit refreshes the key's window after a terminal Success.
func (d *dedupTracker) commit(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = d.clock()
}

// rollback withdraws a tentative entry so the content is immediately
// resubmittable.
func (d *dedupTracker) rollback(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
}

// prune drops expired entries. Caller holds the lock.
func (d *dedupTracker) prune(now time.Time) {
	for k, at := range d.entries {
		if now.Sub(at) >= d.window {
			delete(d.entries, k)
		}
	}
}
