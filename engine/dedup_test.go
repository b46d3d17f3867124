package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"lowercases", "Set A Timer", "set a timer"},
		{"strips punctuation", "set a timer, please!", "set a timer please"},
		{"collapses whitespace", "set   a \t timer\n now", "set a timer now"},
		{"keeps digits", "timer for 10 minutes", "timer for 10 minutes"},
		{"empty", "", ""},
		{"only punctuation", "?!...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeContent(tt.content))
		})
	}

	t.Run("truncates long content", func(t *testing.T) {
		long := strings.Repeat("abcde ", 40)
		key := normalizeContent(long)
		assert.Len(t, []rune(key), dedupKeyMaxLen)
	})
}

func TestDedupTracker(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	t.Run("begin then duplicate", func(t *testing.T) {
		d := newDedupTracker(5*time.Second, clock)
		assert.False(t, d.begin("k"))
		assert.True(t, d.begin("k"))
	})

	t.Run("rollback readmits", func(t *testing.T) {
		d := newDedupTracker(5*time.Second, clock)
		d.begin("k")
		d.rollback("k")
		assert.False(t, d.begin("k"))
	})

	t.Run("commit refreshes window", func(t *testing.T) {
		local := now
		d := newDedupTracker(5*time.Second, func() time.Time { return local })
		d.begin("k")
		local = local.Add(4 * time.Second)
		d.commit("k")
		local = local.Add(4 * time.Second)
		assert.True(t, d.begin("k"), "commit should have restarted the window")
	})

	t.Run("expiry", func(t *testing.T) {
		local := now
		d := newDedupTracker(5*time.Second, func() time.Time { return local })
		d.begin("k")
		local = local.Add(6 * time.Second)
		assert.False(t, d.begin("k"))
	})

	t.Run("empty key never dedups", func(t *testing.T) {
		d := newDedupTracker(5*time.Second, clock)
		assert.False(t, d.begin(""))
		assert.False(t, d.begin(""))
	})
}
