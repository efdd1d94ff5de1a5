package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/core/ports"
)

// Store is an in-memory implementation of ports.ClientDataStore
type Store struct {
	mu      sync.RWMutex
	clients map[string]ports.ClientData
}

// Ensure Store implements ClientDataStore
var _ ports.ClientDataStore = (*Store)(nil)

// New creates a new in-memory store holding the given clients
func New(clients ...ports.ClientData) *Store {
	s := &Store{
		clients: make(map[string]ports.ClientData, len(clients)),
	}
	for _, c := range clients {
		s.clients[c.Identity.ID] = c
	}
	return s
}

// NewSeeded creates a store holding the demo clients.
func NewSeeded() *Store {
	return New(SeedClients()...)
}

// Put inserts or replaces a client.
func (s *Store) Put(ctx context.Context, c ports.ClientData) error {
	if c.Identity.ID == "" {
		return fmt.Errorf("client id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c.Identity.ID] = c
	return nil
}

func (s *Store) GetClientIdentity(ctx context.Context, clientID string) (domain.ClientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.clients[clientID]
	if !exists {
		return domain.UnknownClient(clientID), fmt.Errorf("client %s: %w", clientID, domain.ErrClientNotFound)
	}

	return c.Identity, nil
}

func (s *Store) GetClientFinancials(ctx context.Context, clientID string) (domain.FinancialProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clients[clientID].Financials, nil
}

func (s *Store) GetClientCreditHistory(ctx context.Context, clientID string) (domain.CreditHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.clients[clientID]
	if !exists {
		return domain.CreditHistory{}, fmt.Errorf("credit history %s: %w", clientID, domain.ErrClientNotFound)
	}

	return c.Credit, nil
}

func (s *Store) Close() error {
	return nil
}

// SeedClients returns the demo client set shared by the memory and SQLite stores.
func SeedClients() []ports.ClientData {
	return []ports.ClientData{
		{
			Identity:   domain.ClientRecord{ID: "client-001", Name: "John Doe", Address: "123 Main St"},
			Financials: domain.FinancialProfile{MonthlyIncome: 4000, MonthlyExpenses: 2500},
			Credit:     domain.CreditHistory{Debt: 5000, LatePayments: 2},
		},
		{
			Identity:   domain.ClientRecord{ID: "client-002", Name: "Alice Smith", Address: "456 Elm St"},
			Financials: domain.FinancialProfile{MonthlyIncome: 3000, MonthlyExpenses: 2800},
			Credit:     domain.CreditHistory{Debt: 2000},
		},
		{
			Identity:   domain.ClientRecord{ID: "client-003", Name: "Bob Johnson", Address: "789 Oak St"},
			Financials: domain.FinancialProfile{MonthlyIncome: 6000, MonthlyExpenses: 4000},
			Credit:     domain.CreditHistory{Debt: 10000, LatePayments: 5, HasBankruptcy: true},
		},
	}
}
