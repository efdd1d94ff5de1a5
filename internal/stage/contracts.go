package stage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
)

// Name identifies a stage in configuration, logs and traces.
type Name string

const (
	Extraction         Name = "extraction"
	PropertyEvaluation Name = "property_evaluation"
	CreditScore        Name = "credit_score"
	DebtRatio          Name = "debt_ratio"
	Decision           Name = "decision"
	Explanation        Name = "explanation"
	Approval           Name = "approval"
)

// Names lists every stage in reference execution order.
func Names() []Name {
	return []Name{Extraction, PropertyEvaluation, CreditScore, DebtRatio, Decision, Explanation, Approval}
}

// ErrMalformed marks a reply that decoded but cannot be used.
var ErrMalformed = errors.New("malformed stage response")

// Stage defaults. These are the values the pipeline reports when a stage is
// unreachable or its reply unusable. Approval falls back to a rejection.
var (
	DefaultExtraction = domain.ExtractionResult{
		Amount:              0,
		DurationYears:       0,
		PropertyType:        "Unknown",
		PropertyDescription: "",
		Location:            "Unknown",
	}

	DefaultPropertyEvaluation = domain.PropertyEvaluation{
		EstimatedValue:  0,
		LegalCompliance: false,
		CanProceed:      false,
		Report:          "No evaluation available",
	}

	DefaultCreditScore = 0.0

	DefaultDebtRatio = 0.0

	DefaultDecision = domain.SolvencyDecision{
		Status: domain.SolvencyStatusUnknown,
		Report: "",
	}

	DefaultExplanation = domain.Explanation{}

	DefaultApproval = domain.ApprovalDecision{
		Approved:      false,
		InterestRate:  0,
		MaxLoanAmount: 0,
		Report:        "communication error with approval stage",
	}
)

// Request is a typed stage request.
type Request interface {
	Params() []Param
}

// Spec is the untyped part of a contract: how to address the stage and which
// fields to read back.
type Spec struct {
	Stage     Name
	Operation string
	Namespace string
	Wrapper   string
	Fields    []Field
	// Constraints adds JSON Schema keywords to individual fields.
	Constraints map[string]map[string]any

	schema *jsonschema.Schema
}

// Contract binds a Spec to the typed result built from its fields.
type Contract[T any] struct {
	Spec
	Default T
	Build   func(Values) T
}

func newContract[T any](c Contract[T]) *Contract[T] {
	c.schema = mustCompileSchema(&c.Spec)
	return &c
}

// Message builds the wire message for req.
func (s *Spec) Message(req Request) Message {
	return Message{
		Operation: s.Operation,
		Namespace: s.Namespace,
		Wrapper:   s.Wrapper,
		Params:    req.Params(),
	}
}

// SchemaDocument returns the JSON Schema the extracted fields must satisfy.
func (s *Spec) SchemaDocument() map[string]any {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		p := map[string]any{"type": f.Type.String()}
		for k, v := range s.Constraints[f.Name] {
			p[k] = v
		}
		props[f.Name] = p
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

func mustCompileSchema(s *Spec) *jsonschema.Schema {
	b, err := json.Marshal(s.SchemaDocument())
	if err != nil {
		panic(fmt.Sprintf("stage %s: marshal schema: %v", s.Stage, err))
	}
	name := fmt.Sprintf("%s.json", s.Stage)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("stage %s: add schema: %v", s.Stage, err))
	}
	return compiler.MustCompile(name)
}

// FieldError reports a field that was present but could not be read as its
// declared type. The field keeps its default.
type FieldError struct {
	Field string
	Raw   string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Extract reads the contract fields out of doc. Absent, empty or unreadable
// fields take their per-field default; unreadable ones are returned as
// FieldErrors next to the values. A reply that mentions none of the fields
// or violates the schema is malformed.
func (s *Spec) Extract(doc *Document, r *Resolver) (Values, []*FieldError, error) {
	if !s.mentioned(doc) {
		return nil, nil, fmt.Errorf("%w: no %s fields in reply", ErrMalformed, s.Stage)
	}

	vals := make(Values, len(s.Fields))
	present := make(map[string]any, len(s.Fields))
	var bad []*FieldError

	for _, f := range s.Fields {
		vals[f.Name] = f.Default

		raw, ok := r.Resolve(doc, s.Namespace, f.Name)
		if !ok || raw == "" {
			continue
		}
		v, err := coerce(raw, f.Type)
		if err != nil {
			bad = append(bad, &FieldError{Field: f.Name, Raw: raw, Err: err})
			continue
		}
		vals[f.Name] = v
		present[f.Name] = schemaValue(v)
	}

	if s.schema != nil {
		if err := s.schema.Validate(present); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	return vals, bad, nil
}

// mentioned reports whether any leaf of doc, empty and nil ones included,
// names a contract field.
func (s *Spec) mentioned(doc *Document) bool {
	if doc == nil {
		return false
	}
	for _, l := range doc.Leaves {
		for _, f := range s.Fields {
			if l.Local == f.Name {
				return true
			}
		}
	}
	return false
}

// ExtractionRequest carries the free-text loan request.
type ExtractionRequest struct {
	Text string
}

func (r ExtractionRequest) Params() []Param {
	return []Param{{Name: "text", Value: r.Text}}
}

// PropertyEvaluationRequest carries the property fields of the extraction.
type PropertyEvaluationRequest struct {
	Extraction domain.ExtractionResult
}

func (r PropertyEvaluationRequest) Params() []Param {
	return []Param{
		{Name: "amount", Value: r.Extraction.Amount},
		{Name: "duration_years", Value: r.Extraction.DurationYears},
		{Name: "property_type", Value: r.Extraction.PropertyType},
		{Name: "property_description", Value: r.Extraction.PropertyDescription},
		{Name: "location", Value: r.Extraction.Location},
	}
}

// CreditScoreRequest carries the credit history of the client.
type CreditScoreRequest struct {
	History domain.CreditHistory
}

func (r CreditScoreRequest) Params() []Param {
	return []Param{
		{Name: "debt", Value: r.History.Debt},
		{Name: "latePayments", Value: r.History.LatePayments},
		{Name: "hasBankruptcy", Value: r.History.HasBankruptcy},
	}
}

// DebtRatioRequest carries the monthly income and repayment load.
type DebtRatioRequest struct {
	ClientID            string
	MonthlyIncome       float64
	MonthlyDebtPayments float64
}

func (r DebtRatioRequest) Params() []Param {
	return []Param{
		{Name: "clientId", Value: r.ClientID},
		{Name: "monthlyIncome", Value: r.MonthlyIncome},
		{Name: "monthlyDebtPayments", Value: r.MonthlyDebtPayments},
	}
}

// DecisionRequest carries the credit score, debt ratio and cash flow.
type DecisionRequest struct {
	ClientID    string
	CreditScore float64
	DebtRatio   float64
	Financials  domain.FinancialProfile
}

func (r DecisionRequest) Params() []Param {
	return []Param{
		{Name: "clientId", Value: r.ClientID},
		{Name: "creditScore", Value: r.CreditScore},
		{Name: "debtRatio", Value: r.DebtRatio},
		{Name: "monthlyIncome", Value: r.Financials.MonthlyIncome},
		{Name: "monthlyExpenses", Value: r.Financials.MonthlyExpenses},
	}
}

// ExplanationRequest carries everything the explanation texts refer to.
type ExplanationRequest struct {
	Score      float64
	Financials domain.FinancialProfile
	History    domain.CreditHistory
}

func (r ExplanationRequest) Params() []Param {
	return []Param{
		{Name: "score", Value: r.Score},
		{Name: "monthlyIncome", Value: r.Financials.MonthlyIncome},
		{Name: "monthlyExpenses", Value: r.Financials.MonthlyExpenses},
		{Name: "debt", Value: r.History.Debt},
		{Name: "latePayments", Value: r.History.LatePayments},
		{Name: "hasBankruptcy", Value: r.History.HasBankruptcy},
	}
}

// ApprovalRequest carries the loan terms, solvency and property outcome.
type ApprovalRequest struct {
	ClientID               string
	RequestedAmount        float64
	DurationYears          int
	SolvencyStatus         domain.SolvencyStatus
	EstimatedPropertyValue float64
	PropertyCanProceed     bool
}

func (r ApprovalRequest) Params() []Param {
	return []Param{
		{Name: "clientId", Value: r.ClientID},
		{Name: "requestedAmount", Value: r.RequestedAmount},
		{Name: "duration_years", Value: r.DurationYears},
		{Name: "solvencyStatus", Value: string(r.SolvencyStatus)},
		{Name: "estimatedPropertyValue", Value: r.EstimatedPropertyValue},
		{Name: "propertyCanProceed", Value: r.PropertyCanProceed},
	}
}

var ExtractionContract = newContract(Contract[domain.ExtractionResult]{
	Spec: Spec{
		Stage:     Extraction,
		Operation: "extractInformation",
		Namespace: "urn:ie.service:v1",
		Fields: []Field{
			{Name: "amount", Type: FieldFloat, Default: DefaultExtraction.Amount},
			{Name: "duration_years", Type: FieldInt, Default: DefaultExtraction.DurationYears},
			{Name: "property_type", Type: FieldString, Default: DefaultExtraction.PropertyType},
			{Name: "property_description", Type: FieldString, Default: DefaultExtraction.PropertyDescription},
			{Name: "location", Type: FieldString, Default: DefaultExtraction.Location},
		},
		Constraints: map[string]map[string]any{
			"amount":         {"minimum": 0},
			"duration_years": {"minimum": 0},
		},
	},
	Default: DefaultExtraction,
	Build: func(v Values) domain.ExtractionResult {
		return domain.ExtractionResult{
			Amount:              v.Float("amount"),
			DurationYears:       v.Int("duration_years"),
			PropertyType:        v.String("property_type"),
			PropertyDescription: v.String("property_description"),
			Location:            v.String("location"),
		}
	},
})

var PropertyEvaluationContract = newContract(Contract[domain.PropertyEvaluation]{
	Spec: Spec{
		Stage:     PropertyEvaluation,
		Operation: "EvaluateProperty",
		Namespace: "urn:property.evaluation:v1",
		Wrapper:   "data",
		Fields: []Field{
			{Name: "estimatedValue", Type: FieldFloat, Default: 0.0},
			{Name: "legalCompliance", Type: FieldBool, Default: false},
			{Name: "canProceed", Type: FieldBool, Default: false},
			{Name: "evaluationReport", Type: FieldString, Default: ""},
		},
		Constraints: map[string]map[string]any{
			"estimatedValue": {"minimum": 0},
		},
	},
	Default: DefaultPropertyEvaluation,
	Build: func(v Values) domain.PropertyEvaluation {
		return domain.PropertyEvaluation{
			EstimatedValue:  v.Float("estimatedValue"),
			LegalCompliance: v.Bool("legalCompliance"),
			CanProceed:      v.Bool("canProceed"),
			Report:          v.String("evaluationReport"),
		}
	},
})

var CreditScoreContract = newContract(Contract[float64]{
	Spec: Spec{
		Stage:     CreditScore,
		Operation: "ComputeCreditScore",
		Namespace: "urn:creditscore.service:v1",
		Fields: []Field{
			{Name: "score", Type: FieldFloat, Default: DefaultCreditScore},
		},
	},
	Default: DefaultCreditScore,
	Build: func(v Values) float64 {
		return v.Float("score")
	},
})

var DebtRatioContract = newContract(Contract[float64]{
	Spec: Spec{
		Stage:     DebtRatio,
		Operation: "ComputeDebtRatio",
		Namespace: "urn:debtratio.service:v1",
		Fields: []Field{
			{Name: "debtRatio", Type: FieldFloat, Default: DefaultDebtRatio},
		},
		Constraints: map[string]map[string]any{
			"debtRatio": {"minimum": 0},
		},
	},
	Default: DefaultDebtRatio,
	Build: func(v Values) float64 {
		return v.Float("debtRatio")
	},
})

var DecisionContract = newContract(Contract[domain.SolvencyDecision]{
	Spec: Spec{
		Stage:     Decision,
		Operation: "MakeDecision",
		Namespace: "urn:solvency.decision:v1",
		Fields: []Field{
			{Name: "solvencyStatus", Type: FieldString, Default: string(DefaultDecision.Status)},
			{Name: "report", Type: FieldString, Default: DefaultDecision.Report},
		},
		Constraints: map[string]map[string]any{
			"solvencyStatus": {"enum": []string{
				string(domain.SolvencyStatusSolvent),
				string(domain.SolvencyStatusNotSolvent),
			}},
		},
	},
	Default: DefaultDecision,
	Build: func(v Values) domain.SolvencyDecision {
		return domain.SolvencyDecision{
			Status: domain.SolvencyStatus(v.String("solvencyStatus")),
			Report: v.String("report"),
		}
	},
})

var ExplanationContract = newContract(Contract[domain.Explanation]{
	Spec: Spec{
		Stage:     Explanation,
		Operation: "Explain",
		Namespace: "urn:explain.service:v1",
		Fields: []Field{
			{Name: "creditScoreExplanation", Type: FieldString, Default: ""},
			{Name: "incomeVsExpensesExplanation", Type: FieldString, Default: ""},
			{Name: "creditHistoryExplanation", Type: FieldString, Default: ""},
		},
	},
	Default: DefaultExplanation,
	Build: func(v Values) domain.Explanation {
		return domain.Explanation{
			CreditScore:      v.String("creditScoreExplanation"),
			IncomeVsExpenses: v.String("incomeVsExpensesExplanation"),
			CreditHistory:    v.String("creditHistoryExplanation"),
		}
	},
})

var ApprovalContract = newContract(Contract[domain.ApprovalDecision]{
	Spec: Spec{
		Stage:     Approval,
		Operation: "MakeApprovalDecision",
		Namespace: "urn:approval.decision:v1",
		Wrapper:   "request",
		Fields: []Field{
			{Name: "approved", Type: FieldBool, Default: false},
			{Name: "interestRate", Type: FieldFloat, Default: 0.0},
			{Name: "maxLoanAmount", Type: FieldFloat, Default: 0.0},
			{Name: "decisionReport", Type: FieldString, Default: ""},
		},
		Constraints: map[string]map[string]any{
			"interestRate":  {"minimum": 0},
			"maxLoanAmount": {"minimum": 0},
		},
	},
	Default: DefaultApproval,
	Build: func(v Values) domain.ApprovalDecision {
		return domain.ApprovalDecision{
			Approved:      v.Bool("approved"),
			InterestRate:  v.Float("interestRate"),
			MaxLoanAmount: v.Float("maxLoanAmount"),
			Report:        v.String("decisionReport"),
		}
	},
})
