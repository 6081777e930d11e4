// Package agent implements the autonomous agent lifecycle: an agent recalls
// context from its memory subsystem, reasons about a task with an LLM
// provider, picks an action through its reasoning strategies, executes it,
// and feeds the outcome back into memory and strategy beliefs.
//
// Agents are single-tasked. The state machine admits exactly one in-flight
// task; concurrent ProcessTask calls are rejected with ErrAgentBusy.
package agent
