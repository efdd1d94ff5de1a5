// Package ports defines the core interfaces of the solvency gateway.
// This file contains the decision pipeline interface consumed by the HTTP API.
package ports

import (
	"context"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
)

// DecisionService produces a credit decision for a client and a free-text loan request.
type DecisionService interface {
	// GetDecision always returns a fully populated decision; stage failures are
	// absorbed into default values.
	GetDecision(ctx context.Context, clientID, loanRequest string) *domain.FinalDecision
}
