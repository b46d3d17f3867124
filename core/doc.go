// Package core provides the foundational domain types, interfaces and
// execution contexts used by taskmesh. It defines the core abstractions for:
//
//   - Tasks (routed units of work with lineage and deadlines)
//   - Agents (units that accept tasks and produce results) and their
//     capability surface (bidding, briefing, lifecycle hooks)
//   - Results (the success / needs-input / failure sum type) and Replies
//   - ExecutionContext (the scoped capability bundle handed to an agent)
//   - Pluggable boundaries: KVStore, Memory, Breaker, TelemetrySink
//
// The package intentionally keeps implementation concerns (persistence,
// engine orchestration, concrete agents) out of scope, exposing small
// interfaces to enable custom backends and extensions.
package core
