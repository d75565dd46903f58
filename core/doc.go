// Package core provides the foundational domain types and interfaces shared by
// the querymesh runtime, its agents and the orchestrator. It defines:
//
//   - Identity (AgentID, TopicID) for addressing agents and broadcast channels
//   - Messages (the closed Message set discriminated by MessageKind)
//   - StreamMessage / ResponseMessage, the UI-facing event shapes
//   - CancellationToken and MessageContext threaded through every delivery
//   - The Agent contract and the Runtime surface visible to handlers
//   - Bus error types and the per-run state machine
//
// The package intentionally keeps delivery, scheduling and concrete agents out
// of scope so that higher level packages (runtime, agent, collector,
// orchestrator) can depend on it without cycles.
package core
