package core

// KVStore is the persistence boundary of the core. Implementations must
// guarantee that PutAtomic never leaves a partial value behind.
type KVStore interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)
	// PutAtomic stores value under key with all-or-nothing semantics.
	PutAtomic(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Memory is the per-agent markdown document handle exposed to agents
// through the ExecutionContext. Sections are ordered and uniquely named;
// bodies are opaque markdown preserved verbatim across save/load.
type Memory interface {
	// SectionNames returns section names in document order.
	SectionNames() []string
	// Section returns the body of the named section.
	Section(name string) (string, bool)
	// UpdateSection replaces (or appends) the named section body and
	// marks the document dirty.
	UpdateSection(name, body string)
	// AppendToSection appends one line to the named section. When
	// maxLines > 0 the oldest lines are dropped FIFO beyond the cap.
	AppendToSection(name, line string, maxLines int)
	// KeyValues parses "- key: value" lines from the named section.
	KeyValues(name string) map[string]string
	// IsDirty reports whether there are unsaved changes.
	IsDirty() bool
	// Save persists the full document atomically. No-op when clean.
	Save() error
}
