package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/stage"
	"github.com/tjfontaine/solvency-gateway/internal/storage/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// happyReplies are the JSON results every stage returns when healthy.
func happyReplies() map[stage.Name]string {
	return map[stage.Name]string{
		stage.Extraction:         `{"amount": 200000, "duration_years": 20, "property_type": "maison", "property_description": "maison neuve", "location": "Lyon"}`,
		stage.PropertyEvaluation: `{"estimatedValue": 396000, "legalCompliance": true, "canProceed": true, "evaluationReport": "compliant"}`,
		stage.CreditScore:        `{"score": 750}`,
		stage.DebtRatio:          `{"debtRatio": 10.42}`,
		stage.Decision:           `{"solvencyStatus": "solvent", "report": "score and ratio within limits"}`,
		stage.Explanation:        `{"creditScoreExplanation": "good", "incomeVsExpensesExplanation": "positive", "creditHistoryExplanation": "some late payments"}`,
		stage.Approval:           `{"approved": true, "interestRate": 3.2, "maxLoanAmount": 316800, "decisionReport": "approved"}`,
	}
}

// happyResults is what happyReplies decode to.
func happyResults() Results {
	return Results{
		Extraction: domain.ExtractionResult{
			Amount:              200000,
			DurationYears:       20,
			PropertyType:        "maison",
			PropertyDescription: "maison neuve",
			Location:            "Lyon",
		},
		PropertyEvaluation: domain.PropertyEvaluation{EstimatedValue: 396000, LegalCompliance: true, CanProceed: true, Report: "compliant"},
		CreditScore:        750,
		DebtRatio:          10.42,
		Decision:           domain.SolvencyDecision{Status: domain.SolvencyStatusSolvent, Report: "score and ratio within limits"},
		Explanation:        domain.Explanation{CreditScore: "good", IncomeVsExpenses: "positive", CreditHistory: "some late payments"},
		Approval:           domain.ApprovalDecision{Approved: true, InterestRate: 3.2, MaxLoanAmount: 316800, Report: "approved"},
	}
}

// withDefault replaces the output of one stage by its default.
func withDefault(res Results, name stage.Name) Results {
	d := DefaultResults()
	switch name {
	case stage.Extraction:
		res.Extraction = d.Extraction
	case stage.PropertyEvaluation:
		res.PropertyEvaluation = d.PropertyEvaluation
	case stage.CreditScore:
		res.CreditScore = d.CreditScore
	case stage.DebtRatio:
		res.DebtRatio = d.DebtRatio
	case stage.Decision:
		res.Decision = d.Decision
	case stage.Explanation:
		res.Explanation = d.Explanation
	case stage.Approval:
		res.Approval = d.Approval
	}
	return res
}

// fakeStages serves every stage over the JSON codec at /<stage name>.
type fakeStages struct {
	srv *httptest.Server

	mu      sync.Mutex
	calls   map[stage.Name]int
	params  map[stage.Name]map[string]any
	replies map[stage.Name]string
	broken  map[stage.Name]string // "down" or "malformed"
	delay   time.Duration
}

func newFakeStages(t *testing.T) *fakeStages {
	t.Helper()
	f := &fakeStages{
		calls:   make(map[stage.Name]int),
		params:  make(map[stage.Name]map[string]any),
		replies: happyReplies(),
		broken:  make(map[stage.Name]string),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeStages) serve(w http.ResponseWriter, r *http.Request) {
	name := stage.Name(strings.TrimPrefix(r.URL.Path, "/"))

	var msg struct {
		Namespace string         `json:"namespace"`
		Params    map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Unwrap {"data": {...}} and {"request": {...}}.
	params := msg.Params
	if len(params) == 1 {
		for _, v := range params {
			if inner, ok := v.(map[string]any); ok {
				params = inner
			}
		}
	}

	f.mu.Lock()
	f.calls[name]++
	f.params[name] = params
	mode := f.broken[name]
	reply := f.replies[name]
	delay := f.delay
	f.mu.Unlock()

	time.Sleep(delay)

	switch mode {
	case "down":
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	case "malformed":
		io.WriteString(w, "{this is not json")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"namespace": %q, "result": %s}`, msg.Namespace, reply)
}

func (f *fakeStages) breakStage(name stage.Name, mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken[name] = mode
}

func (f *fakeStages) slowDown(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeStages) callCount(name stage.Name) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStages) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeStages) lastParams(name stage.Name) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[name]
}

func (f *fakeStages) endpoints() map[stage.Name]stage.Endpoint {
	endpoints := make(map[stage.Name]stage.Endpoint)
	for _, n := range stage.Names() {
		endpoints[n] = stage.Endpoint{
			URL:     f.srv.URL + "/" + string(n),
			Timeout: 2 * time.Second,
			Codec:   stage.JSONCodec{},
		}
	}
	return endpoints
}

func newTestPipeline(t *testing.T, endpoints map[stage.Name]stage.Endpoint, mode Mode) *Pipeline {
	t.Helper()
	store := memory.NewSeeded()
	p, err := New(Config{
		Directory:  store,
		Financials: store,
		Credit:     store,
		Client:     stage.NewClient(endpoints, stage.WithHTTPClient(http.DefaultClient), stage.WithLogger(quietLogger())),
		Mode:       mode,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

// failingStore knows every client but cannot read their records.
type failingStore struct{}

var errStoreDown = errors.New("store unavailable")

func (failingStore) GetClientIdentity(ctx context.Context, id string) (domain.ClientRecord, error) {
	return domain.ClientRecord{ID: id, Name: "Known", Address: "Somewhere"}, nil
}

func (failingStore) GetClientFinancials(ctx context.Context, id string) (domain.FinancialProfile, error) {
	return domain.FinancialProfile{MonthlyIncome: 99}, errStoreDown
}

func (failingStore) GetClientCreditHistory(ctx context.Context, id string) (domain.CreditHistory, error) {
	return domain.CreditHistory{Debt: 99}, errStoreDown
}
