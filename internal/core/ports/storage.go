package ports

import (
	"context"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
)

// ClientDirectory resolves client identities.
type ClientDirectory interface {
	// GetClientIdentity returns domain.ErrClientNotFound for unknown ids.
	GetClientIdentity(ctx context.Context, clientID string) (domain.ClientRecord, error)
}

// FinancialStore holds monthly income and expenses per client.
type FinancialStore interface {
	// GetClientFinancials returns a zero profile for unknown ids.
	GetClientFinancials(ctx context.Context, clientID string) (domain.FinancialProfile, error)
}

// CreditHistoryStore holds credit bureau records per client.
type CreditHistoryStore interface {
	// GetClientCreditHistory returns domain.ErrClientNotFound for unknown ids.
	GetClientCreditHistory(ctx context.Context, clientID string) (domain.CreditHistory, error)
}

// ClientDataStore is implemented by backends that serve all three lookups.
type ClientDataStore interface {
	ClientDirectory
	FinancialStore
	CreditHistoryStore

	// Close closes the storage connection
	Close() error
}

// ClientData is one complete client row, used to seed stores.
type ClientData struct {
	Identity   domain.ClientRecord
	Financials domain.FinancialProfile
	Credit     domain.CreditHistory
}
