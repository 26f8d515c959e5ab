// Package pipeline turns a feature request into generated code through a
// fixed sequence of text-generation calls.
//
// A run writes a specification, derives a red-phase test suite from it, then
// alternates implementation and review until the reviewer approves or the
// attempt budget (DefaultMaxIterations unless configured) is spent:
//
//	SPECIFYING -> TESTING -> DEVELOPING(0) -> REVIEWING(0) -> DEVELOPING(1) -> ... -> DONE
//
// Every stage issues exactly one Complete call and never retries; retries,
// timeouts and rate limits belong to the client middleware. Review feedback
// from iteration i is passed verbatim to the implementation at i+1. Any
// client error aborts the run with a *RunError after a terminal idle event.
//
// An Orchestrator keeps no per-run state and may serve concurrent runs.
package pipeline
