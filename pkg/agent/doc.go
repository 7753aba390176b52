// Package agent runs the browser-driven test roles against a target page.
//
// Invariants:
// - Run never panics and never returns an error: faults become Outcome.Error.
// - Every page acquired by a runner is closed on every exit path.
// - On a fault, a "fatal_error" screenshot is attempted before the page closes.
//
// Usage:
//
//	runners := agent.NewRegistry(agent.Deps{Driver: driver, Prober: prober})
//	r, ok := runners.Get(agent.RoleFeedback)
//	outcome := r.Run(ctx, "https://example.com")
//	_ = outcome
package agent
