package memory

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/kv"
)

func TestDocumentUpdateSaveLoadRoundTrip(t *testing.T) {
	store := kv.NewInMemoryStore()

	d, err := Load(store, "calendar")
	require.NoError(t, err)
	assert.False(t, d.IsDirty())

	d.UpdateSection("preferences", "- timezone: Europe/Berlin\n- weekStart: monday\n")
	assert.True(t, d.IsDirty())
	require.NoError(t, d.Save())
	assert.False(t, d.IsDirty())

	reloaded, err := Load(store, "calendar")
	require.NoError(t, err)
	body, ok := reloaded.Section("preferences")
	require.True(t, ok)
	assert.Equal(t, "- timezone: Europe/Berlin\n- weekStart: monday\n", body)
}

func TestDocumentSectionOrderPreserved(t *testing.T) {
	store := kv.NewInMemoryStore()
	d, err := Load(store, "briefer")
	require.NoError(t, err)

	d.UpdateSection("zeta", "z\n")
	d.UpdateSection("alpha", "a\n")
	d.UpdateSection("mid", "m\n")
	require.NoError(t, d.Save())

	reloaded, err := Load(store, "briefer")
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, reloaded.SectionNames())
}

func TestDocumentPreservesUnknownContent(t *testing.T) {
	store := kv.NewInMemoryStore()
	raw := "agent scratch notes\n\n## known\nhello\n\n## mystery\nkept verbatim\n\ntrailing\n"
	require.NoError(t, store.PutAtomic("a", raw))

	d, err := Load(store, "a")
	require.NoError(t, err)
	d.UpdateSection("known", "updated\n")
	require.NoError(t, d.Save())

	got, ok, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agent scratch notes\n\n## known\nupdated\n## mystery\nkept verbatim\n\ntrailing\n", got)
}

func TestAppendToSectionFIFOTruncation(t *testing.T) {
	store := kv.NewInMemoryStore()
	d, err := Load(store, "log")
	require.NoError(t, err)

	const max = 5
	for i := 0; i < max+3; i++ {
		d.AppendToSection("recent", fmt.Sprintf("entry %d", i), max)
	}

	body, ok := d.Section("recent")
	require.True(t, ok)
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	require.Len(t, lines, max)
	assert.Equal(t, "entry 3", lines[0])
	assert.Equal(t, "entry 7", lines[max-1])
}

func TestKeyValuesParsing(t *testing.T) {
	store := kv.NewInMemoryStore()
	d, err := Load(store, "prefs")
	require.NoError(t, err)

	d.UpdateSection("settings", strings.Join([]string{
		"- voice: nova",
		"- speed: 1.2",
		"not a kv line",
		"- home city: Berlin",
		"",
	}, "\n"))

	kvs := d.KeyValues("settings")
	assert.Equal(t, map[string]string{
		"voice":     "nova",
		"speed":     "1.2",
		"home city": "Berlin",
	}, kvs)

	assert.Empty(t, d.KeyValues("absent"))
}

func TestSaveIsNoOpWhenClean(t *testing.T) {
	store := countingStore{InMemoryStore: kv.NewInMemoryStore(), puts: new(int)}
	d, err := Load(store, "x")
	require.NoError(t, err)

	require.NoError(t, d.Save())
	assert.Equal(t, 0, *store.puts)

	d.UpdateSection("s", "v")
	require.NoError(t, d.Save())
	require.NoError(t, d.Save())
	assert.Equal(t, 1, *store.puts)
}

func TestUpdateSectionSameBodyStaysClean(t *testing.T) {
	store := kv.NewInMemoryStore()
	d, err := Load(store, "x")
	require.NoError(t, err)

	d.UpdateSection("s", "v\n")
	require.NoError(t, d.Save())
	d.UpdateSection("s", "v\n")
	assert.False(t, d.IsDirty())
}

func TestManagerSharesDocuments(t *testing.T) {
	m := NewManager(kv.NewInMemoryStore())

	a, err := m.Open("weather")
	require.NoError(t, err)
	b, err := m.Open("weather")
	require.NoError(t, err)
	assert.Same(t, a, b)

	a.AppendToSection("cache", "- city: Berlin", 0)
	require.NoError(t, m.FlushAll())
	assert.False(t, a.IsDirty())
}

type countingStore struct {
	*kv.InMemoryStore
	puts *int
}

func (s countingStore) PutAtomic(key, value string) error {
	*s.puts++
	return s.InMemoryStore.PutAtomic(key, value)
}
