package pipeline

import (
	"sort"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/stage"
)

// Subject is what the stores know about the client.
type Subject struct {
	ClientID   string
	Identity   domain.ClientRecord
	Financials domain.FinancialProfile
	Credit     domain.CreditHistory
}

// Results holds the output of every stage, defaults included.
type Results struct {
	Extraction         domain.ExtractionResult
	PropertyEvaluation domain.PropertyEvaluation
	CreditScore        float64
	DebtRatio          float64
	Decision           domain.SolvencyDecision
	Explanation        domain.Explanation
	Approval           domain.ApprovalDecision
}

// DefaultResults returns every stage at its default value.
func DefaultResults() Results {
	return Results{
		Extraction:         stage.DefaultExtraction,
		PropertyEvaluation: stage.DefaultPropertyEvaluation,
		CreditScore:        stage.DefaultCreditScore,
		DebtRatio:          stage.DefaultDebtRatio,
		Decision:           stage.DefaultDecision,
		Explanation:        stage.DefaultExplanation,
		Approval:           stage.DefaultApproval,
	}
}

// Aggregate assembles the final decision. It performs no I/O.
func Aggregate(s Subject, res Results, degraded []stage.Name) *domain.FinalDecision {
	names := make([]string, 0, len(degraded))
	for _, d := range degraded {
		names = append(names, string(d))
	}
	sort.Strings(names)

	return &domain.FinalDecision{
		ClientID:           s.ClientID,
		ClientIdentity:     s.Identity,
		Financials:         s.Financials,
		CreditHistory:      s.Credit,
		Extraction:         res.Extraction,
		PropertyEvaluation: res.PropertyEvaluation,
		CreditScore:        res.CreditScore,
		DebtRatio:          res.DebtRatio,
		SolvencyStatus:     res.Decision.Status,
		SolvencyReport:     res.Decision.Report,
		Explanation:        res.Explanation,
		ApprovalDecision:   res.Approval,
		DegradedStages:     names,
	}
}

// UnknownClientDecision is returned when the client is not in the directory.
// No stage has been called.
func UnknownClientDecision(clientID string) *domain.FinalDecision {
	d := Aggregate(Subject{
		ClientID: clientID,
		Identity: domain.UnknownClient(clientID),
	}, DefaultResults(), nil)
	d.SolvencyStatus = domain.SolvencyStatusError
	d.SolvencyReport = "client not found"
	return d
}
