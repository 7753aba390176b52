// Package dispatch runs detached orchestration tasks with a concurrency limit.
//
// Invariants:
// - At most the configured number of tasks run at once; the rest wait in FIFO order.
// - Each task is addressed by its id and owns one Handle until it settles.
// - Task contexts outlive the caller that submitted them and end on Close.
// - A panicking task settles its handle with an error.
//
// Usage:
//
//	d := dispatch.New(dispatch.Options{Concurrency: 4})
//	defer d.Close(context.Background())
//	h, _ := d.Submit(ctx, "session-1", func(ctx context.Context) error { return nil })
//	_ = h.Wait(ctx)
package dispatch
