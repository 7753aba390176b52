// Package orchestrator runs every requested agent role of a session
// concurrently, aggregates the settled outcomes, and records the terminal
// status and report.
//
// Invariants:
// - A run moves its session pending to running exactly once and then to one terminal status.
// - All roles settle before aggregation; one failing role never cancels the others.
// - An unknown role yields a failed outcome instead of aborting the run.
// - A fault during aggregation stores a minimal failed report.
//
// Usage:
//
//	orch := orchestrator.New(store, agent.NewRegistry(deps), orchestrator.WithTrend(true))
//	report, err := orch.Run(ctx, sessionID)
package orchestrator
