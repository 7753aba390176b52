// Package cron runs named background jobs on cron schedules.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// parser accepts standard five-field expressions and descriptors such as "@every 10m".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron expression or descriptor.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

// NextRun returns the next activation of expr after now.
func NextRun(expr string, now time.Time) (time.Time, error) {
	s, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(now), nil
}

// zerologAdapter routes cron's internal logging through zerolog.
type zerologAdapter struct{}

func (zerologAdapter) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (zerologAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// Scheduler owns a cron runner and its named jobs. A job never overlaps
// with itself and a panicking job is logged, not fatal.
type Scheduler struct {
	c *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler() *Scheduler {
	logger := zerologAdapter{}
	return &Scheduler{
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers fn under name. Adding an existing name replaces the job.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
	}
	job := cron.FuncJob(func() {
		start := time.Now()
		fn()
		log.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Scheduled job finished")
	})
	s.entries[name] = s.c.Schedule(sched, job)

	log.Info().Str("job", name).Str("schedule", spec).Msg("Scheduled job registered")
	return nil
}

// Remove unregisters a job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
		delete(s.entries, name)
	}
}

// Next returns the next activation of a job. It is zero until the scheduler starts.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.c.Entry(id).Next, true
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	return names
}

// Start begins running jobs. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.c.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
	}
}
