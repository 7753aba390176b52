package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/harun/uxorbit/pkg/browser"
	"github.com/harun/uxorbit/pkg/dispatch"
	"github.com/harun/uxorbit/pkg/flow"
	"github.com/harun/uxorbit/pkg/results"
	"github.com/harun/uxorbit/pkg/session"
	"github.com/rs/zerolog/log"
)

// URLValidator decides whether a target may be tested.
type URLValidator interface {
	ValidateURL(raw string) error
}

// FlowLookup resolves named flows.
type FlowLookup interface {
	Get(name string) (flow.Flow, bool)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Sessions     *session.Store
	Orchestrator *Orchestrator
	Dispatcher   *dispatch.Dispatcher
	// Results answers lookups for sessions no longer held in memory. Optional.
	Results results.Store
	// Flows validates named flows in requests. Optional.
	Flows FlowLookup
	// URLs validates targets. Defaults to an http(s) check that allows localhost.
	URLs URLValidator
}

// Service is the boundary callers use to create, start and read sessions.
type Service struct {
	sessions   *session.Store
	orch       *Orchestrator
	dispatcher *dispatch.Dispatcher
	results    results.Store
	flows      FlowLookup
	urls       URLValidator
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.URLs == nil {
		cfg.URLs = browser.NewSecurityValidator(browser.SecurityConfig{AllowLocalhostUrls: true})
	}
	return &Service{
		sessions:   cfg.Sessions,
		orch:       cfg.Orchestrator,
		dispatcher: cfg.Dispatcher,
		results:    cfg.Results,
		flows:      cfg.Flows,
		urls:       cfg.URLs,
	}
}

// CreateSession validates req and registers a pending session.
func (s *Service) CreateSession(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	if err := s.urls.ValidateURL(req.URL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, name := range req.Flows {
		if s.flows == nil {
			return "", fmt.Errorf("%w: %w: %s", ErrInvalidRequest, flow.ErrUnknownFlow, name)
		}
		if _, ok := s.flows.Get(name); !ok {
			return "", fmt.Errorf("%w: %w: %s", ErrInvalidRequest, flow.ErrUnknownFlow, name)
		}
	}

	sess, err := s.sessions.Create(ctx, "", req.URL, req.Agents, session.WithFlows(req.Flows...))
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Start dispatches the orchestration of a pending session and returns at once.
func (s *Service) Start(ctx context.Context, id string) (*dispatch.Handle, error) {
	status, err := s.sessions.GetStatus(id)
	if err != nil {
		return nil, err
	}
	if status != session.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, status)
	}

	h, err := s.dispatcher.Submit(ctx, id, func(ctx context.Context) error {
		_, err := s.orch.Run(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch session %s: %w", id, err)
	}
	log.Info().Str("session_id", id).Msg("Session dispatched")
	return h, nil
}

// Submit creates a session for req and starts it. A session that could not
// be dispatched is removed again.
func (s *Service) Submit(ctx context.Context, req Request) (string, *dispatch.Handle, error) {
	id, err := s.CreateSession(ctx, req)
	if err != nil {
		return "", nil, err
	}
	h, err := s.Start(ctx, id)
	if err != nil {
		s.sessions.Remove(id)
		log.Warn().Err(err).Str("session_id", id).Msg("Dropped undispatched session")
		return "", nil, err
	}
	return id, h, nil
}

// Status returns the status of a live session or of a persisted report.
func (s *Service) Status(ctx context.Context, id string) (session.Status, error) {
	status, err := s.sessions.GetStatus(id)
	if err == nil {
		return status, nil
	}
	rec, perr := s.persisted(ctx, id)
	if perr != nil {
		return "", err
	}
	return session.Status(rec.Status), nil
}

// Result returns the report of a terminal session. The report is nil while
// the session is pending or running.
func (s *Service) Result(ctx context.Context, id string) (*aggregate.Report, session.Status, error) {
	sess, err := s.sessions.Get(id)
	if err == nil {
		if !sess.Status.Terminal() {
			return nil, sess.Status, nil
		}
		return sess.Result, sess.Status, nil
	}

	rec, perr := s.persisted(ctx, id)
	if perr != nil {
		return nil, "", err
	}
	return rec.Report, session.Status(rec.Status), nil
}

// Watch streams status transitions of a live session.
func (s *Service) Watch(id string) (<-chan session.Event, func(), error) {
	return s.sessions.Subscribe(id)
}

// Stats is a point-in-time view of session and run load.
type Stats struct {
	Sessions int            `json:"sessions"`
	Dispatch dispatch.Stats `json:"dispatch"`
}

// Stats reports how many sessions are held and how many runs are queued or running.
func (s *Service) Stats() Stats {
	return Stats{Sessions: s.sessions.Len(), Dispatch: s.dispatcher.Stats()}
}

// Shutdown stops accepting runs and waits for running ones until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.dispatcher.Close(ctx)
}

func (s *Service) persisted(ctx context.Context, id string) (*results.Record, error) {
	if s.results == nil {
		return nil, session.ErrNotFound
	}
	rec, err := s.results.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, results.ErrNotFound) {
			log.Warn().Err(err).Str("session_id", id).Msg("Failed to load persisted report")
		}
		return nil, err
	}
	return rec, nil
}
