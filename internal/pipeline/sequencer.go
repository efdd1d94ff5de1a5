package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/core/ports"
	"github.com/tjfontaine/solvency-gateway/internal/stage"
)

// run is the request-scoped state of one decision. Each graph node writes
// only its own Results field.
type run struct {
	Subject
	LoanRequest string
	Results
}

// Pipeline produces credit decisions.
type Pipeline struct {
	directory  ports.ClientDirectory
	financials ports.FinancialStore
	credit     ports.CreditHistoryStore
	client     *stage.Client
	graph      *graph
	mode       Mode
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Config wires a Pipeline.
type Config struct {
	Directory  ports.ClientDirectory
	Financials ports.FinancialStore
	Credit     ports.CreditHistoryStore
	Client     *stage.Client
	Mode       Mode
	Logger     *slog.Logger
}

// Ensure Pipeline implements the interface.
var _ ports.DecisionService = (*Pipeline)(nil)

// New validates the stage graph and returns a ready pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Directory == nil || cfg.Financials == nil || cfg.Credit == nil {
		return nil, errors.New("pipeline: client directory, financial and credit stores are required")
	}
	if cfg.Client == nil {
		return nil, errors.New("pipeline: stage client is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pipeline{
		directory:  cfg.Directory,
		financials: cfg.Financials,
		credit:     cfg.Credit,
		client:     cfg.Client,
		mode:       cfg.Mode,
		logger:     cfg.Logger,
		tracer:     otel.Tracer("github.com/tjfontaine/solvency-gateway/internal/pipeline"),
	}

	g, err := newGraph(p.nodes())
	if err != nil {
		return nil, err
	}
	p.graph = g

	return p, nil
}

// Mode returns the execution mode.
func (p *Pipeline) Mode() Mode {
	return p.mode
}

// GetDecision runs the pipeline for one client. It always returns a fully
// populated decision.
func (p *Pipeline) GetDecision(ctx context.Context, clientID, loanRequest string) *domain.FinalDecision {
	ctx, span := p.tracer.Start(ctx, "pipeline.decision", trace.WithAttributes(
		attribute.String("client.id", clientID),
		attribute.String("pipeline.mode", string(p.mode)),
	))
	defer span.End()

	identity, err := p.directory.GetClientIdentity(ctx, clientID)
	if err != nil {
		p.logger.WarnContext(ctx, "client lookup failed",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		span.SetAttributes(attribute.Bool("client.found", false))
		return UnknownClientDecision(clientID)
	}
	span.SetAttributes(attribute.Bool("client.found", true))

	financials, err := p.financials.GetClientFinancials(ctx, clientID)
	if err != nil {
		p.logger.WarnContext(ctx, "financial profile lookup failed",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		financials = domain.FinancialProfile{}
	}

	credit, err := p.credit.GetClientCreditHistory(ctx, clientID)
	if err != nil {
		p.logger.WarnContext(ctx, "credit history lookup failed",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		credit = domain.CreditHistory{}
	}

	r := &run{
		Subject: Subject{
			ClientID:   clientID,
			Identity:   identity,
			Financials: financials,
			Credit:     credit,
		},
		LoanRequest: loanRequest,
		Results:     DefaultResults(),
	}

	// Every stage is attempted once even if the caller goes away; the
	// per-attempt stage timeouts bound the run.
	degraded := p.graph.execute(context.WithoutCancel(ctx), r, p.mode)
	decision := Aggregate(r.Subject, r.Results, degraded)

	span.SetAttributes(
		attribute.String("solvency.status", string(decision.SolvencyStatus)),
		attribute.Bool("approval.approved", decision.ApprovalDecision.Approved),
		attribute.StringSlice("pipeline.degraded", decision.DegradedStages),
	)
	p.logger.InfoContext(ctx, "decision produced",
		slog.String("client_id", clientID),
		slog.String("solvency_status", string(decision.SolvencyStatus)),
		slog.Bool("approved", decision.ApprovalDecision.Approved),
		slog.Any("degraded_stages", decision.DegradedStages),
	)

	return decision
}

func (p *Pipeline) nodes() []node {
	return []node{
		{
			name: stage.Extraction,
			run: func(ctx context.Context, r *run) (ok bool) {
				r.Extraction, ok = stage.Invoke(ctx, p.client, stage.ExtractionContract, stage.ExtractionRequest{
					Text: r.LoanRequest,
				})
				return ok
			},
		},
		{
			name: stage.PropertyEvaluation,
			deps: []stage.Name{stage.Extraction},
			run: func(ctx context.Context, r *run) (ok bool) {
				r.PropertyEvaluation, ok = stage.Invoke(ctx, p.client, stage.PropertyEvaluationContract, stage.PropertyEvaluationRequest{
					Extraction: r.Extraction,
				})
				return ok
			},
		},
		{
			name: stage.CreditScore,
			run: func(ctx context.Context, r *run) (ok bool) {
				r.CreditScore, ok = stage.Invoke(ctx, p.client, stage.CreditScoreContract, stage.CreditScoreRequest{
					History: r.Credit,
				})
				return ok
			},
		},
		{
			name: stage.DebtRatio,
			run: func(ctx context.Context, r *run) (ok bool) {
				r.DebtRatio, ok = stage.Invoke(ctx, p.client, stage.DebtRatioContract, stage.DebtRatioRequest{
					ClientID:            r.ClientID,
					MonthlyIncome:       r.Financials.MonthlyIncome,
					MonthlyDebtPayments: r.Credit.MonthlyDebtPayments(),
				})
				return ok
			},
		},
		{
			name: stage.Decision,
			deps: []stage.Name{stage.CreditScore, stage.DebtRatio},
			run: func(ctx context.Context, r *run) (ok bool) {
				r.Decision, ok = stage.Invoke(ctx, p.client, stage.DecisionContract, stage.DecisionRequest{
					ClientID:    r.ClientID,
					CreditScore: r.CreditScore,
					DebtRatio:   r.DebtRatio,
					Financials:  r.Financials,
				})
				return ok
			},
		},
		{
			name: stage.Explanation,
			deps: []stage.Name{stage.CreditScore},
			run: func(ctx context.Context, r *run) (ok bool) {
				r.Explanation, ok = stage.Invoke(ctx, p.client, stage.ExplanationContract, stage.ExplanationRequest{
					Score:      r.CreditScore,
					Financials: r.Financials,
					History:    r.Credit,
				})
				return ok
			},
		},
		{
			name: stage.Approval,
			deps: []stage.Name{stage.Extraction, stage.PropertyEvaluation, stage.Decision},
			run: func(ctx context.Context, r *run) (ok bool) {
				r.Approval, ok = stage.Invoke(ctx, p.client, stage.ApprovalContract, stage.ApprovalRequest{
					ClientID:               r.ClientID,
					RequestedAmount:        r.Extraction.Amount,
					DurationYears:          r.Extraction.DurationYears,
					SolvencyStatus:         r.Decision.Status,
					EstimatedPropertyValue: r.PropertyEvaluation.EstimatedValue,
					PropertyCanProceed:     r.PropertyEvaluation.CanProceed,
				})
				return ok
			},
		},
	}
}
