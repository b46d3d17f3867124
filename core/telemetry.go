package core

// TelemetrySink receives core observability events: dispatch timing, dedup
// hits, breaker trips, discarded late results. The core is agnostic to what
// the host does with them.
type TelemetrySink interface {
	Record(event string, fields map[string]any)
}

// NoopTelemetry discards all events.
type NoopTelemetry struct{}

// Record discards the event.
func (NoopTelemetry) Record(string, map[string]any) {}
