// Package memory implements the per-agent markdown memory store. Each agent
// owns one document made of named "## section" blocks persisted through a
// core.KVStore; the Manager hands out documents and serializes saves per
// document.
package memory

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

var keyValueLine = regexp.MustCompile(`^-\s+([^:]+):\s+(.+)$`)

type section struct {
	name string
	body string
}

// Document is one agent's markdown memory. Section order is preserved
// across save/load; unknown headers written by other tooling are tolerated
// and survive a save untouched. All methods are safe for concurrent use;
// concurrent saves of the same document are serialized by the document
// mutex.
type Document struct {
	agentID string
	store   core.KVStore

	mu       sync.Mutex
	preamble string // text before the first header, preserved verbatim
	sections []section
	dirty    bool
}

var _ core.Memory = (*Document)(nil)

// Load reads the agent's document from the store, initializing an empty
// document when absent.
func Load(store core.KVStore, agentID string) (*Document, error) {
	raw, ok, err := store.Get(agentID)
	if err != nil {
		return nil, fmt.Errorf("load memory for %s: %w", agentID, err)
	}
	d := &Document{agentID: agentID, store: store}
	if ok {
		d.preamble, d.sections = parse(raw)
	}
	return d, nil
}

// AgentID returns the owning agent's id.
func (d *Document) AgentID() string { return d.agentID }

// SectionNames returns section names in document order.
func (d *Document) SectionNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.sections))
	for i, s := range d.sections {
		names[i] = s.name
	}
	return names
}

// Section returns the body of the named section.
func (d *Document) Section(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sections {
		if s.name == name {
			return s.body, true
		}
	}
	return "", false
}

// UpdateSection replaces the named section body, appending a new section
// when the name is unknown. Bodies are normalized to end with a newline so
// the serialized document stays well-formed.
func (d *Document) UpdateSection(name, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	body = ensureTrailingNewline(body)
	for i, s := range d.sections {
		if s.name == name {
			if s.body == body {
				return
			}
			d.sections[i].body = body
			d.dirty = true
			return
		}
	}
	d.sections = append(d.sections, section{name: name, body: body})
	d.dirty = true
}

// AppendToSection appends one line to the named section, creating it when
// missing. When maxLines > 0 the oldest lines are dropped so at most
// maxLines remain, newest last.
func (d *Document) AppendToSection(name, line string, maxLines int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i, s := range d.sections {
		if s.name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		d.sections = append(d.sections, section{name: name})
		idx = len(d.sections) - 1
	}

	lines := splitLines(d.sections[idx].body)
	lines = append(lines, line)
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	d.sections[idx].body = strings.Join(lines, "\n") + "\n"
	d.dirty = true
}

// KeyValues parses "- key: value" lines from the named section. Lines that
// do not match are skipped; later duplicates win.
func (d *Document) KeyValues(name string) map[string]string {
	body, ok := d.Section(name)
	out := map[string]string{}
	if !ok {
		return out
	}
	for _, line := range splitLines(body) {
		m := keyValueLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
	}
	return out
}

// IsDirty reports whether there are unsaved changes.
func (d *Document) IsDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// Save persists the full document atomically. No-op when clean.
func (d *Document) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}
	if err := d.store.PutAtomic(d.agentID, d.renderLocked()); err != nil {
		return fmt.Errorf("save memory for %s: %w", d.agentID, err)
	}
	d.dirty = false
	return nil
}

// Render returns the serialized markdown document.
func (d *Document) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renderLocked()
}

func (d *Document) renderLocked() string {
	var b strings.Builder
	b.WriteString(d.preamble)
	for _, s := range d.sections {
		b.WriteString("## ")
		b.WriteString(s.name)
		b.WriteString("\n")
		b.WriteString(s.body)
	}
	return b.String()
}

// parse splits raw markdown into preamble and sections. Headers match
// lines of the form "## <name>"; bodies run to the next header and keep
// their newlines verbatim.
func parse(raw string) (string, []section) {
	var preamble strings.Builder
	var sections []section
	current := -1

	rest := raw
	for len(rest) > 0 {
		line := rest
		if i := strings.Index(rest, "\n"); i >= 0 {
			line = rest[:i+1]
			rest = rest[i+1:]
		} else {
			rest = ""
		}

		trimmed := strings.TrimRight(line, "\n")
		if name, ok := strings.CutPrefix(trimmed, "## "); ok {
			sections = append(sections, section{name: name})
			current = len(sections) - 1
			continue
		}
		if current == -1 {
			preamble.WriteString(line)
		} else {
			sections[current].body += line
		}
	}
	return preamble.String(), sections
}

func splitLines(body string) []string {
	body = strings.TrimRight(body, "\n")
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}

func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
