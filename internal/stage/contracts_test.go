package stage

import (
	"errors"
	"testing"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
)

func specs() map[Name]*Spec {
	return map[Name]*Spec{
		Extraction:         &ExtractionContract.Spec,
		PropertyEvaluation: &PropertyEvaluationContract.Spec,
		CreditScore:        &CreditScoreContract.Spec,
		DebtRatio:          &DebtRatioContract.Spec,
		Decision:           &DecisionContract.Spec,
		Explanation:        &ExplanationContract.Spec,
		Approval:           &ApprovalContract.Spec,
	}
}

func leaves(namespace string, kv ...string) *Document {
	doc := &Document{}
	for i := 0; i+1 < len(kv); i += 2 {
		doc.Leaves = append(doc.Leaves, Leaf{Space: namespace, Local: kv[i], Value: kv[i+1]})
	}
	return doc
}

func TestContracts_Declared(t *testing.T) {
	all := specs()
	for _, name := range Names() {
		s, ok := all[name]
		if !ok {
			t.Errorf("no contract for stage %s", name)
			continue
		}
		if s.Stage != name {
			t.Errorf("contract %s declares stage %s", name, s.Stage)
		}
		if s.Operation == "" || s.Namespace == "" || len(s.Fields) == 0 {
			t.Errorf("contract %s is incomplete: %+v", name, s)
		}
		if s.schema == nil {
			t.Errorf("contract %s has no compiled schema", name)
		}
	}
}

func TestExtract_PartialUsesFieldDefaults(t *testing.T) {
	doc := leaves("urn:ie.service:v1", "amount", "250 000 €", "duration_years", "20")

	vals, _, err := ExtractionContract.Extract(doc, DefaultResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := ExtractionContract.Build(vals)
	want := domain.ExtractionResult{
		Amount:        250000,
		DurationYears: 20,
		PropertyType:  "Unknown",
		Location:      "Unknown",
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestExtract_EmptyStringIsAbsent(t *testing.T) {
	doc := leaves("urn:ie.service:v1", "amount", "1000", "location", "")

	vals, _, err := ExtractionContract.Extract(doc, DefaultResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := vals.String("location"); got != "Unknown" {
		t.Errorf("expected default location, got %q", got)
	}
}

func TestExtract_Malformed(t *testing.T) {
	tests := []struct {
		name string
		spec *Spec
		doc  *Document
	}{
		{
			name: "no contract fields",
			spec: &CreditScoreContract.Spec,
			doc:  leaves("urn:creditscore.service:v1", "unrelated", "1"),
		},
		{
			name: "status outside enum",
			spec: &DecisionContract.Spec,
			doc:  leaves("urn:solvency.decision:v1", "solvencyStatus", "maybe"),
		},
		{
			name: "negative ratio",
			spec: &DebtRatioContract.Spec,
			doc:  leaves("urn:debtratio.service:v1", "debtRatio", "-4"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.spec.Extract(tt.doc, DefaultResolver())
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestExtract_UnreadableFieldKeepsOthers(t *testing.T) {
	tests := []struct {
		name  string
		spec  *Spec
		doc   *Document
		field string
		check func(Values) bool
	}{
		{
			name:  "duration placeholder",
			spec:  &ExtractionContract.Spec,
			doc:   leaves("urn:ie.service:v1", "amount", "250000", "duration_years", "Non précisée", "property_type", "maison", "location", "Lyon"),
			field: "duration_years",
			check: func(v Values) bool {
				return v.Float("amount") == 250000 && v.Int("duration_years") == 0 &&
					v.String("property_type") == "maison" && v.String("location") == "Lyon"
			},
		},
		{
			name:  "uncoercible number",
			spec:  &PropertyEvaluationContract.Spec,
			doc:   leaves("urn:property.evaluation:v1", "estimatedValue", "lots", "canProceed", "true"),
			field: "estimatedValue",
			check: func(v Values) bool {
				return v.Float("estimatedValue") == 0 && v.Bool("canProceed")
			},
		},
		{
			name:  "unknown boolean",
			spec:  &ApprovalContract.Spec,
			doc:   leaves("urn:approval.decision:v1", "approved", "perhaps", "decisionReport", "pending"),
			field: "approved",
			check: func(v Values) bool {
				return !v.Bool("approved") && v.String("decisionReport") == "pending"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vals, bad, err := tt.spec.Extract(tt.doc, DefaultResolver())
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(bad) != 1 || bad[0].Field != tt.field {
				t.Fatalf("expected one unreadable field %s, got %v", tt.field, bad)
			}
			if !tt.check(vals) {
				t.Errorf("unexpected values %v", vals)
			}
		})
	}
}

func TestExtract_EmptyReplyIsNotMalformed(t *testing.T) {
	doc := &Document{Leaves: []Leaf{
		{Space: "urn:ie.service:v1", Local: "amount", Nil: true},
		{Space: "urn:ie.service:v1", Local: "location", Value: ""},
	}}

	vals, bad, err := ExtractionContract.Extract(doc, DefaultResolver())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(bad) != 0 {
		t.Errorf("expected no unreadable fields, got %v", bad)
	}
	if got := ExtractionContract.Build(vals); got != DefaultExtraction {
		t.Errorf("expected %+v, got %+v", DefaultExtraction, got)
	}
}

func TestExtract_Decision(t *testing.T) {
	doc := leaves("urn:solvency.decision:v1", "solvencyStatus", "not_solvent", "report", "ratio too high")

	vals, _, err := DecisionContract.Extract(doc, DefaultResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := DecisionContract.Build(vals)
	if got.Status != domain.SolvencyStatusNotSolvent || got.Report != "ratio too high" {
		t.Errorf("unexpected decision %+v", got)
	}
}

func TestExtract_ApprovalNeverDefaultsToApproved(t *testing.T) {
	doc := leaves("urn:approval.decision:v1", "decisionReport", "pending")

	vals, _, err := ApprovalContract.Extract(doc, DefaultResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ApprovalContract.Build(vals).Approved {
		t.Error("approval must not default to true")
	}
	if DefaultApproval.Approved {
		t.Error("DefaultApproval must be a rejection")
	}
}

func TestRequests_Params(t *testing.T) {
	req := ApprovalRequest{
		ClientID:               "client-002",
		RequestedAmount:        150000,
		DurationYears:          15,
		SolvencyStatus:         domain.SolvencyStatusUnknown,
		EstimatedPropertyValue: 0,
		PropertyCanProceed:     false,
	}

	want := []string{"clientId", "requestedAmount", "duration_years", "solvencyStatus", "estimatedPropertyValue", "propertyCanProceed"}
	params := req.Params()
	if len(params) != len(want) {
		t.Fatalf("expected %d params, got %d", len(want), len(params))
	}
	for i, p := range params {
		if p.Name != want[i] {
			t.Errorf("param %d: expected %s, got %s", i, want[i], p.Name)
		}
	}
	if params[3].Value != "unknown" {
		t.Errorf("expected solvencyStatus to be sent as a plain string, got %#v", params[3].Value)
	}

	debt := DebtRatioRequest{ClientID: "client-001", MonthlyIncome: 4000, MonthlyDebtPayments: 5000.0 / 12}
	if got := debt.Params()[2].Value; got != 5000.0/12 {
		t.Errorf("unexpected monthlyDebtPayments %v", got)
	}
}
