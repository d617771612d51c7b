// Package ledger keeps the sandbox float accounts and the record of accepted
// disbursements. A disbursement debits the float and is stored in one step.
package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/alexbotov/mpesa/internal/domain"
)

var (
	ErrDuplicateReference = errors.New("duplicate third-party reference")
	ErrInsufficientFunds  = errors.New("insufficient float balance")
	ErrAccountNotFound    = errors.New("float account not found")
	ErrNotFound           = errors.New("disbursement not found")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// Store persists float accounts, disbursements and gateway state
type Store interface {
	// EnsureAccount creates the float account with the opening balance when
	// it does not exist yet. An existing account keeps its balance.
	EnsureAccount(ctx context.Context, serviceProviderCode string, opening domain.Money) error
	Balance(ctx context.Context, serviceProviderCode string) (domain.Money, error)
	// Disburse debits the float and records d atomically. It returns the
	// remaining float balance.
	Disburse(ctx context.Context, d *domain.Disbursement) (domain.Money, error)
	FindByReference(ctx context.Context, thirdPartyReference string) (*domain.Disbursement, error)
	// List returns up to limit disbursements, newest first.
	List(ctx context.Context, limit int) ([]*domain.Disbursement, error)
	SetState(ctx context.Context, key, value, updatedBy string) error
	State(ctx context.Context, key string) (string, bool, error)
	Close() error
}

// MemoryStore is a Store backed by process memory
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[string]domain.Money
	disbursements []*domain.Disbursement
	byReference   map[string]*domain.Disbursement
	state         map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]domain.Money),
		byReference: make(map[string]*domain.Disbursement),
		state:       make(map[string]string),
	}
}

func (s *MemoryStore) EnsureAccount(ctx context.Context, serviceProviderCode string, opening domain.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[serviceProviderCode]; !ok {
		s.accounts[serviceProviderCode] = opening
	}
	return nil
}

func (s *MemoryStore) Balance(ctx context.Context, serviceProviderCode string) (domain.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.accounts[serviceProviderCode]
	if !ok {
		return domain.Money{}, ErrAccountNotFound
	}
	return balance, nil
}

func (s *MemoryStore) Disburse(ctx context.Context, d *domain.Disbursement) (domain.Money, error) {
	if d.Amount.Amount <= 0 {
		return domain.Money{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byReference[d.ThirdPartyReference]; ok {
		return domain.Money{}, ErrDuplicateReference
	}
	balance, ok := s.accounts[d.ServiceProviderCode]
	if !ok {
		return domain.Money{}, ErrAccountNotFound
	}
	if balance.Amount < d.Amount.Amount {
		return balance, ErrInsufficientFunds
	}

	balance = balance.Sub(d.Amount)
	s.accounts[d.ServiceProviderCode] = balance

	stored := *d
	s.disbursements = append(s.disbursements, &stored)
	s.byReference[d.ThirdPartyReference] = &stored
	return balance, nil
}

func (s *MemoryStore) FindByReference(ctx context.Context, thirdPartyReference string) (*domain.Disbursement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byReference[thirdPartyReference]
	if !ok {
		return nil, ErrNotFound
	}
	found := *d
	return &found, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*domain.Disbursement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*domain.Disbursement, 0, len(s.disbursements))
	for i := len(s.disbursements) - 1; i >= 0; i-- {
		found := *s.disbursements[i]
		list = append(list, &found)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *MemoryStore) SetState(ctx context.Context, key, value, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	return nil
}

func (s *MemoryStore) State(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.state[key]
	return value, ok, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
