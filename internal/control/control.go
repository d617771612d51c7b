// Package control provides operator control over the gateway sandbox.
//
// The operator can put the gateway into overload mode, in which every
// disbursement is refused with the vendor's temporary overload answer. State
// changes are persisted so a restarted sandbox comes back in the same mode.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOverloaded is returned by CheckAccess while overload mode is on
var ErrOverloaded = errors.New("gateway is temporarily overloaded")

const overloadKey = "overload"

// StateStore persists operator switches
type StateStore interface {
	SetState(ctx context.Context, key, value, updatedBy string) error
	State(ctx context.Context, key string) (string, bool, error)
}

// Status is a snapshot of the gateway switches
type Status struct {
	Overloaded bool       `json:"overloaded"`
	ChangedAt  *time.Time `json:"changed_at,omitempty"`
	ChangedBy  string     `json:"changed_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Service holds the gateway switches
type Service struct {
	store  StateStore
	logger *slog.Logger

	mu         sync.RWMutex
	overloaded bool
	changedAt  *time.Time
	changedBy  string
	reason     string
}

// New creates a new control service
func New(store StateStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// SetOverload turns overload mode on or off
func (s *Service) SetOverload(ctx context.Context, on bool, reason, authorizedBy string) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetState(ctx, overloadKey, fmt.Sprint(on), authorizedBy); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s.overloaded = on
	s.changedAt = &now
	s.changedBy = authorizedBy
	s.reason = reason

	s.logger.WarnContext(ctx, "gateway overload mode changed",
		"overloaded", on,
		"reason", reason,
		"authorized_by", authorizedBy)

	return s.statusLocked(), nil
}

// IsOverloaded reports whether overload mode is on
func (s *Service) IsOverloaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overloaded
}

// CheckAccess returns ErrOverloaded while disbursements are refused
func (s *Service) CheckAccess() error {
	if s.IsOverloaded() {
		return ErrOverloaded
	}
	return nil
}

// Status returns the current switches
func (s *Service) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Service) statusLocked() *Status {
	return &Status{
		Overloaded: s.overloaded,
		ChangedAt:  s.changedAt,
		ChangedBy:  s.changedBy,
		Reason:     s.reason,
	}
}

// LoadState loads persisted state on startup
func (s *Service) LoadState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok, err := s.store.State(ctx, overloadKey)
	if err != nil {
		return fmt.Errorf("failed to load gateway state: %w", err)
	}
	s.overloaded = ok && value == "true"
	return nil
}
