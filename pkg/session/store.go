package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/internal/tracing"
	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/harun/uxorbit/pkg/cron"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMaxSessions  = 1000
	DefaultTTL          = time.Hour
	DefaultReapSchedule = "@every 10m"

	reapJob      = "session-reaper"
	eventBufSize = 8
)

// Options configures a Store.
type Options struct {
	MaxSessions int
	TTL         time.Duration
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Store is a capacity- and TTL-bounded registry of sessions.
type Store struct {
	maxSessions int
	ttl         time.Duration
	metrics     *metrics.Metrics
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	subs     map[string]map[int]chan Event
	nextSub  int

	schedMu   sync.Mutex
	scheduler *cron.Scheduler
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		maxSessions: opts.MaxSessions,
		ttl:         opts.TTL,
		metrics:     opts.Metrics,
		now:         opts.Now,
		sessions:    make(map[string]*Session),
		subs:        make(map[string]map[int]chan Event),
	}
}

// Create inserts a pending session. An empty id gets a generated one.
// At capacity it evicts the oldest-created sessions that are not running and
// fails with ErrCapacity when that cannot make room.
func (s *Store) Create(ctx context.Context, id, url string, roles []string, opts ...CreateOption) (*Session, error) {
	_, span := tracing.StartSpan(ctx, tracing.TracerSession, "session.create",
		attribute.String("url", url),
		attribute.StringSlice("roles", roles),
	)
	defer span.End()

	if id == "" {
		generated, err := gonanoid.New()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		id = generated
	}
	span.SetAttributes(tracing.AttrSessionID.String(id))

	now := s.now()
	sess := &Session{
		ID:             id,
		URL:            url,
		Roles:          append([]string(nil), roles...),
		Status:         StatusPending,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	for _, opt := range opts {
		opt(sess)
	}

	s.mu.Lock()
	if _, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		span.SetStatus(codes.Error, ErrExists.Error())
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}

	evicted := 0
	if len(s.sessions) >= s.maxSessions {
		for _, victim := range s.oldestFirstLocked() {
			if len(s.sessions) < s.maxSessions {
				break
			}
			if victim.Status == StatusRunning {
				continue
			}
			s.removeLocked(victim.ID)
			evicted++
		}
	}
	if len(s.sessions) >= s.maxSessions {
		active := len(s.sessions)
		s.mu.Unlock()
		s.metrics.SessionsRemoved("admission", evicted, active)
		span.SetStatus(codes.Error, ErrCapacity.Error())
		return nil, ErrCapacity
	}

	s.sessions[id] = sess
	active := len(s.sessions)
	out := sess.clone()
	s.mu.Unlock()

	s.metrics.SessionsRemoved("admission", evicted, active)
	s.metrics.SessionCreated(active)
	if evicted > 0 {
		log.Info().Int("evicted", evicted).Int("active", active).Msg("Evicted sessions to admit new session")
	}
	log.Debug().Str("session_id", id).Str("url", url).Strs("roles", roles).Msg("Session created")
	return out, nil
}

// Exists reports whether id is held by the store.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// SetStatus moves a session forward. It is a no-op when id is absent.
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return s.transitionLocked(sess, status)
}

// SetResult attaches the aggregated report. It is a no-op when id is absent.
func (s *Store) SetResult(id string, report *aggregate.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.Result = report
		sess.LastAccessedAt = s.now()
	}
}

// Finish stores report and moves the session to a terminal status in one step.
func (s *Store) Finish(id string, status Status, report *aggregate.Report) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if !CanTransition(sess.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, status)
	}
	sess.Result = report
	return s.transitionLocked(sess, status)
}

func (s *Store) transitionLocked(sess *Session, to Status) error {
	if !CanTransition(sess.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
	}
	ev := Event{SessionID: sess.ID, From: sess.Status, To: to, At: s.now()}
	sess.Status = to
	sess.LastAccessedAt = ev.At

	for _, ch := range s.subs[sess.ID] {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("session_id", sess.ID).Str("status", string(to)).Msg("Dropped session event for slow subscriber")
		}
	}
	if to.Terminal() {
		s.closeSubsLocked(sess.ID)
	}
	return nil
}

// Get returns a snapshot of the session and refreshes its access time.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.LastAccessedAt = s.now()
	return sess.clone(), nil
}

// GetStatus returns the session status and refreshes its access time.
func (s *Store) GetStatus(id string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.LastAccessedAt = s.now()
	return sess.Status, nil
}

// Remove drops id and closes its subscribers. It reports whether id was held.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()

	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return false
	}
	s.removeLocked(id)
	active := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SessionsRemoved("dropped", 1, active)
	return true
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Subscribe streams status transitions of id. The channel is closed after the
// terminal transition, when the session is removed, or when cancel is called.
// A session already in a terminal state yields a closed channel.
func (s *Store) Subscribe(id string) (<-chan Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	ch := make(chan Event, eventBufSize)
	if sess.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	key := s.nextSub
	s.nextSub++
	if s.subs[id] == nil {
		s.subs[id] = make(map[int]chan Event)
	}
	s.subs[id][key] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id][key]; ok {
				delete(s.subs[id], key)
				close(c)
				if len(s.subs[id]) == 0 {
					delete(s.subs, id)
				}
			}
		})
	}
	return ch, cancel, nil
}

// Reap removes sessions idle for longer than the TTL, then trims the store to
// its cap by evicting the oldest-created sessions. It returns the number removed.
func (s *Store) Reap() int {
	s.mu.Lock()
	cutoff := s.now().Add(-s.ttl)
	expired := 0
	for id, sess := range s.sessions {
		if sess.LastAccessedAt.Before(cutoff) {
			s.removeLocked(id)
			expired++
		}
	}

	trimmed := 0
	if over := len(s.sessions) - s.maxSessions; over > 0 {
		for _, victim := range s.oldestFirstLocked()[:over] {
			s.removeLocked(victim.ID)
			trimmed++
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SessionsRemoved("ttl", expired, active)
	s.metrics.SessionsRemoved("cap", trimmed, active)
	if expired+trimmed > 0 {
		log.Info().
			Int("expired", expired).
			Int("trimmed", trimmed).
			Int("active", active).
			Msg("Reaped sessions")
	}
	return expired + trimmed
}

// Start runs the reaper on schedule. An empty schedule uses DefaultReapSchedule.
func (s *Store) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultReapSchedule
	}

	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.scheduler != nil {
		return fmt.Errorf("session reaper is already running")
	}

	sched := cron.NewScheduler()
	if err := sched.Add(reapJob, schedule, func() { s.Reap() }); err != nil {
		return err
	}
	sched.Start()
	s.scheduler = sched

	log.Info().
		Str("schedule", schedule).
		Dur("ttl", s.ttl).
		Int("max_sessions", s.maxSessions).
		Msg("Session reaper started")
	return nil
}

// Stop halts the reaper and waits for an in-flight pass until ctx is done.
func (s *Store) Stop(ctx context.Context) error {
	s.schedMu.Lock()
	sched := s.scheduler
	s.scheduler = nil
	s.schedMu.Unlock()

	if sched == nil {
		return nil
	}
	err := sched.Stop(ctx)
	log.Info().Msg("Session reaper stopped")
	return err
}

func (s *Store) oldestFirstLocked() []*Session {
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

func (s *Store) removeLocked(id string) {
	delete(s.sessions, id)
	s.closeSubsLocked(id)
}

func (s *Store) closeSubsLocked(id string) {
	for _, ch := range s.subs[id] {
		close(ch)
	}
	delete(s.subs, id)
}
