// Package session holds the in-memory registry of test sessions.
//
// Invariants:
// - A session starts pending and only moves forward: pending, running, then one terminal status.
// - A session carries a result once it reaches a terminal status.
// - Admission evicts the oldest-created sessions that are not running; it never overwrites.
// - The reaper removes idle sessions past the TTL and trims the store to its cap.
//
// Usage:
//
//	store := session.NewStore(session.Options{MaxSessions: 100, TTL: time.Hour})
//	_ = store.Start("@every 10m")
//	defer store.Stop(context.Background())
//	s, _ := store.Create(ctx, "", "https://example.com", []string{"feedback"})
//	_ = store.SetStatus(s.ID, session.StatusRunning)
package session
