package session

import (
	"errors"
	"time"

	"github.com/harun/uxorbit/pkg/aggregate"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrCapacity          = errors.New("session store at capacity")
	ErrExists            = errors.New("session already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending             Status = "pending"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusRunning || s.Terminal()
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

// Session is a snapshot of one test run. Values returned by the Store are copies.
type Session struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	Roles          []string          `json:"roles"`
	Flows          []string          `json:"flows,omitempty"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastAccessedAt time.Time         `json:"lastAccessedAt"`
	Result         *aggregate.Report `json:"result,omitempty"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Roles = append([]string(nil), s.Roles...)
	c.Flows = append([]string(nil), s.Flows...)
	return &c
}

// Event describes one status transition.
type Event struct {
	SessionID string    `json:"sessionId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	At        time.Time `json:"at"`
}

// CreateOption customizes a new session.
type CreateOption func(*Session)

// WithFlows attaches named navigation flows to the session.
func WithFlows(names ...string) CreateOption {
	return func(s *Session) {
		s.Flows = append([]string(nil), names...)
	}
}
