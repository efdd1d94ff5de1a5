// Package stagesim serves the seven decision stages over the same wire
// protocol as the deployed stage services, for local development and
// end-to-end tests.
//
// Each stage is mounted at POST /<stage name>. Requests are decoded with the
// stage codecs (JSON when the Content-Type says so, SOAP otherwise) and
// answered in the same format. Inputs that cannot be read produce a SOAP fault
// or a JSON error body.
package stagesim

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/stage"
)

const maxBodyBytes = 1 << 20

// Options configure a Simulator.
type Options struct {
	// DecisionRule and ApprovalRule replace the default CEL rules when set.
	DecisionRule string
	ApprovalRule string
	Logger       *slog.Logger
}

// Simulator implements every stage in process.
type Simulator struct {
	logger   *slog.Logger
	resolver *stage.Resolver

	mu       sync.RWMutex
	decision *DecisionPolicy
	approval *ApprovalPolicy
}

func New(opts Options) (*Simulator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		logger:   logger,
		resolver: stage.DefaultResolver(),
	}
	if err := s.SetRules(opts.DecisionRule, opts.ApprovalRule); err != nil {
		return nil, err
	}
	return s, nil
}

// SetRules compiles and installs new decision and approval rules. Empty
// rules select the defaults. On error the current rules stay in place.
func (s *Simulator) SetRules(decisionRule, approvalRule string) error {
	decision, err := NewDecisionPolicy(decisionRule)
	if err != nil {
		return err
	}
	approval, err := NewApprovalPolicy(approvalRule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.decision, s.approval = decision, approval
	s.mu.Unlock()

	s.logger.Info("stage rules installed",
		slog.String("decision_rule", decision.Expression),
		slog.String("approval_rule", approval.Expression))
	return nil
}

func (s *Simulator) policies() (*DecisionPolicy, *ApprovalPolicy) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decision, s.approval
}

// operation binds a stage's request fields to its implementation.
type operation struct {
	reply *stage.Spec
	input []stage.Field
	run   func(in stage.Values) ([]stage.Param, error)
}

// Routes mounts one endpoint per stage on r.
func (s *Simulator) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	for name, op := range s.operations() {
		r.Post("/"+string(name), s.handle(op))
	}
}

func (s *Simulator) operations() map[stage.Name]operation {
	return map[stage.Name]operation{
		stage.Extraction: {
			reply: &stage.ExtractionContract.Spec,
			input: []stage.Field{{Name: "text", Type: stage.FieldString}},
			run: func(in stage.Values) ([]stage.Param, error) {
				out := ExtractLoanRequest(in.String("text"))
				return []stage.Param{
					{Name: "amount", Value: out.Amount},
					{Name: "duration_years", Value: out.DurationYears},
					{Name: "property_type", Value: out.PropertyType},
					{Name: "property_description", Value: out.PropertyDescription},
					{Name: "location", Value: out.Location},
				}, nil
			},
		},
		stage.PropertyEvaluation: {
			reply: &stage.PropertyEvaluationContract.Spec,
			input: []stage.Field{
				{Name: "amount", Type: stage.FieldFloat, Default: 0.0},
				{Name: "duration_years", Type: stage.FieldInt, Default: 0},
				{Name: "property_type", Type: stage.FieldString, Default: ""},
				{Name: "property_description", Type: stage.FieldString, Default: ""},
				{Name: "location", Type: stage.FieldString, Default: ""},
			},
			run: func(in stage.Values) ([]stage.Param, error) {
				out := EvaluateProperty(domain.ExtractionResult{
					Amount:              in.Float("amount"),
					DurationYears:       in.Int("duration_years"),
					PropertyType:        in.String("property_type"),
					PropertyDescription: in.String("property_description"),
					Location:            in.String("location"),
				})
				return []stage.Param{
					{Name: "estimatedValue", Value: out.EstimatedValue},
					{Name: "legalCompliance", Value: out.LegalCompliance},
					{Name: "evaluationReport", Value: out.Report},
					{Name: "canProceed", Value: out.CanProceed},
				}, nil
			},
		},
		stage.CreditScore: {
			reply: &stage.CreditScoreContract.Spec,
			input: creditFields(),
			run: func(in stage.Values) ([]stage.Param, error) {
				return []stage.Param{{Name: "score", Value: CreditScore(creditHistory(in))}}, nil
			},
		},
		stage.DebtRatio: {
			reply: &stage.DebtRatioContract.Spec,
			input: []stage.Field{
				{Name: "clientId", Type: stage.FieldString, Default: ""},
				{Name: "monthlyIncome", Type: stage.FieldFloat, Default: 0.0},
				{Name: "monthlyDebtPayments", Type: stage.FieldFloat, Default: 0.0},
			},
			run: func(in stage.Values) ([]stage.Param, error) {
				return []stage.Param{
					{Name: "clientId", Value: in.String("clientId")},
					{Name: "debtRatio", Value: DebtRatio(in.Float("monthlyIncome"), in.Float("monthlyDebtPayments"))},
				}, nil
			},
		},
		stage.Decision: {
			reply: &stage.DecisionContract.Spec,
			input: []stage.Field{
				{Name: "clientId", Type: stage.FieldString, Default: ""},
				{Name: "creditScore", Type: stage.FieldFloat, Default: 0.0},
				{Name: "debtRatio", Type: stage.FieldFloat, Default: 0.0},
				{Name: "monthlyIncome", Type: stage.FieldFloat, Default: 0.0},
				{Name: "monthlyExpenses", Type: stage.FieldFloat, Default: 0.0},
			},
			run: func(in stage.Values) ([]stage.Param, error) {
				out, err := s.Decide(in.Float("creditScore"), in.Float("debtRatio"), domain.FinancialProfile{
					MonthlyIncome:   in.Float("monthlyIncome"),
					MonthlyExpenses: in.Float("monthlyExpenses"),
				})
				if err != nil {
					return nil, err
				}
				return []stage.Param{
					{Name: "solvencyStatus", Value: string(out.Status)},
					{Name: "report", Value: out.Report},
				}, nil
			},
		},
		stage.Explanation: {
			reply: &stage.ExplanationContract.Spec,
			input: append([]stage.Field{
				{Name: "score", Type: stage.FieldFloat, Default: 0.0},
				{Name: "monthlyIncome", Type: stage.FieldFloat, Default: 0.0},
				{Name: "monthlyExpenses", Type: stage.FieldFloat, Default: 0.0},
			}, creditFields()...),
			run: func(in stage.Values) ([]stage.Param, error) {
				out := Explain(in.Float("score"), domain.FinancialProfile{
					MonthlyIncome:   in.Float("monthlyIncome"),
					MonthlyExpenses: in.Float("monthlyExpenses"),
				}, creditHistory(in))
				return []stage.Param{
					{Name: "creditScoreExplanation", Value: out.CreditScore},
					{Name: "incomeVsExpensesExplanation", Value: out.IncomeVsExpenses},
					{Name: "creditHistoryExplanation", Value: out.CreditHistory},
				}, nil
			},
		},
		stage.Approval: {
			reply: &stage.ApprovalContract.Spec,
			input: []stage.Field{
				{Name: "clientId", Type: stage.FieldString, Default: ""},
				{Name: "requestedAmount", Type: stage.FieldFloat, Default: 0.0},
				{Name: "duration_years", Type: stage.FieldInt, Default: 0},
				{Name: "solvencyStatus", Type: stage.FieldString, Default: ""},
				{Name: "estimatedPropertyValue", Type: stage.FieldFloat, Default: 0.0},
				{Name: "propertyCanProceed", Type: stage.FieldBool, Default: false},
			},
			run: func(in stage.Values) ([]stage.Param, error) {
				out, err := s.Approve(ApprovalInput{
					ClientID:               in.String("clientId"),
					RequestedAmount:        in.Float("requestedAmount"),
					DurationYears:          in.Int("duration_years"),
					SolvencyStatus:         domain.SolvencyStatus(in.String("solvencyStatus")),
					EstimatedPropertyValue: in.Float("estimatedPropertyValue"),
					PropertyCanProceed:     in.Bool("propertyCanProceed"),
				})
				if err != nil {
					return nil, err
				}
				return []stage.Param{
					{Name: "approved", Value: out.Approved},
					{Name: "interestRate", Value: out.InterestRate},
					{Name: "maxLoanAmount", Value: out.MaxLoanAmount},
					{Name: "decisionReport", Value: out.Report},
				}, nil
			},
		},
	}
}

func creditFields() []stage.Field {
	return []stage.Field{
		{Name: "debt", Type: stage.FieldFloat, Default: 0.0},
		{Name: "latePayments", Type: stage.FieldInt, Default: 0},
		{Name: "hasBankruptcy", Type: stage.FieldBool, Default: false},
	}
}

func creditHistory(in stage.Values) domain.CreditHistory {
	return domain.CreditHistory{
		Debt:          in.Float("debt"),
		LatePayments:  in.Int("latePayments"),
		HasBankruptcy: in.Bool("hasBankruptcy"),
	}
}

// Decide applies the decision rule.
func (s *Simulator) Decide(creditScore, debtRatio float64, fin domain.FinancialProfile) (domain.SolvencyDecision, error) {
	decision, _ := s.policies()
	solvent, err := decision.Solvent(creditScore, debtRatio, fin.MonthlyIncome, fin.MonthlyExpenses)
	if err != nil {
		return domain.SolvencyDecision{}, err
	}

	status := domain.SolvencyStatusNotSolvent
	if solvent {
		status = domain.SolvencyStatusSolvent
	}
	report := fmt.Sprintf("Credit score %.2f; Debt ratio %.2f%%; Overall decision: %s",
		creditScore, debtRatio, strings.ToUpper(string(status)))

	return domain.SolvencyDecision{Status: status, Report: report}, nil
}

// Approve prices the loan. Clients that are not solvent and properties
// that cannot proceed are refused before the approval rule runs.
func (s *Simulator) Approve(in ApprovalInput) (domain.ApprovalDecision, error) {
	refuse := func(reason string) domain.ApprovalDecision {
		return domain.ApprovalDecision{Report: "REFUSED: " + reason}
	}

	switch {
	case in.SolvencyStatus != domain.SolvencyStatusSolvent:
		return refuse("client not solvent"), nil
	case !in.PropertyCanProceed:
		return refuse("property does not qualify"), nil
	case in.EstimatedPropertyValue <= 0:
		return refuse("no property valuation"), nil
	}

	var report []string
	ltv := in.RequestedAmount / in.EstimatedPropertyValue
	report = append(report, fmt.Sprintf("LTV: %.1f%%", ltv*100))
	switch {
	case ltv > 0.9:
		report = append(report, "very high risk (LTV > 90%)")
	case ltv > 0.8:
		report = append(report, "moderate risk (LTV > 80%)")
	default:
		report = append(report, "low risk (LTV <= 80%)")
	}
	if in.DurationYears > 25 {
		report = append(report, "duration over 25 years: increased risk")
	}
	if in.RequestedAmount > 500000 {
		report = append(report, "large amount: additional review")
	}

	risk := riskScore(ltv, in.DurationYears)
	report = append(report, fmt.Sprintf("predictive risk score: %.3f", risk))

	_, approval := s.policies()
	tier, err := approval.Tier(ltv, risk, in.DurationYears, in.RequestedAmount)
	if err != nil {
		return domain.ApprovalDecision{}, err
	}

	var out domain.ApprovalDecision
	switch tier {
	case TierOptimal:
		out.Approved = true
		out.InterestRate = 1.8 + ltv*2 + risk*3
		out.MaxLoanAmount = in.EstimatedPropertyValue * 0.9
		report = append(report, "APPROVED: optimal conditions")
	case TierConditional:
		out.Approved = true
		out.InterestRate = 2.5 + ltv*3 + risk*4
		out.MaxLoanAmount = in.EstimatedPropertyValue * 0.8
		report = append(report, "APPROVED with conditions")
	default:
		report = append(report, "REFUSED: risk too high")
		if risk > 0.7 {
			report = append(report, "advice: improve your payment history")
		}
		if ltv > 0.9 {
			report = append(report, "advice: increase your down payment")
		}
		if in.DurationYears > 25 {
			report = append(report, "advice: shorten the loan duration")
		}
	}

	if out.Approved {
		out.InterestRate = round2(out.InterestRate)
		out.MaxLoanAmount = round2(out.MaxLoanAmount)
		report = append(report,
			fmt.Sprintf("interest rate: %.2f%%", out.InterestRate),
			fmt.Sprintf("maximum amount granted: %.2f", out.MaxLoanAmount))
	}
	out.Report = strings.Join(report, "; ")

	return out, nil
}

func (s *Simulator) handle(op operation) http.HandlerFunc {
	input := stage.Spec{Stage: op.reply.Stage, Namespace: op.reply.Namespace, Fields: op.input}

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		codec := codecFor(r)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.fail(w, r, codec, op, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
			return
		}

		doc, err := codec.Decode(body)
		if err != nil {
			s.fail(w, r, codec, op, http.StatusBadRequest, err)
			return
		}
		in, bad, err := input.Extract(doc, s.resolver)
		if err == nil && len(bad) > 0 {
			err = fmt.Errorf("%w: %w", stage.ErrMalformed, bad[0])
		}
		if err != nil {
			s.fail(w, r, codec, op, http.StatusBadRequest, err)
			return
		}

		params, err := op.run(in)
		if err != nil {
			s.fail(w, r, codec, op, http.StatusInternalServerError, err)
			return
		}

		msg := stage.Message{
			Operation: op.reply.Operation + "Response",
			Namespace: op.reply.Namespace,
			Params:    params,
		}
		out, err := codec.Encode(msg)
		if err != nil {
			s.fail(w, r, codec, op, http.StatusInternalServerError, err)
			return
		}

		w.Header().Set("Content-Type", codec.Header(msg).Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)

		s.logger.InfoContext(r.Context(), "stage served",
			slog.String("stage", string(op.reply.Stage)),
			slog.String("codec", codec.Name()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

func codecFor(r *http.Request) stage.Codec {
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		return stage.JSONCodec{}
	}
	return stage.SOAPCodec{}
}

type soapFault struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	NS      string   `xml:"xmlns:soapenv,attr"`
	Fault   struct {
		Code   string `xml:"faultcode"`
		String string `xml:"faultstring"`
	} `xml:"soapenv:Body>soapenv:Fault"`
}

// fail answers with a SOAP fault or a JSON error. Status 400 maps to a
// Client fault, anything else to a Server fault.
func (s *Simulator) fail(w http.ResponseWriter, r *http.Request, codec stage.Codec, op operation, status int, err error) {
	s.logger.WarnContext(r.Context(), "stage request failed",
		slog.String("stage", string(op.reply.Stage)),
		slog.String("codec", codec.Name()),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	if codec.Name() == "json" {
		errType := domain.ErrorTypeServer
		if status < http.StatusInternalServerError {
			errType = domain.ErrorTypeInvalidRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]*domain.APIError{
			"error": domain.NewAPIError(errType, err.Error()),
		})
		return
	}

	var f soapFault
	f.NS = "http://schemas.xmlsoap.org/soap/envelope/"
	f.Fault.Code = "soapenv:Server"
	if status < http.StatusInternalServerError {
		f.Fault.Code = "soapenv:Client"
	}
	f.Fault.String = err.Error()
	if errors.Is(err, stage.ErrMalformed) {
		f.Fault.String = "invalid " + op.reply.Operation + " request: " + err.Error()
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(f)
}
