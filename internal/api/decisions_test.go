package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
)

type fakeService struct {
	calls    int
	clientID string
	loan     string
	decision *domain.FinalDecision
}

func (f *fakeService) GetDecision(ctx context.Context, clientID, loanRequest string) *domain.FinalDecision {
	f.calls++
	f.clientID = clientID
	f.loan = loanRequest
	return f.decision
}

func newTestRouter(svc *fakeService) http.Handler {
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(r)
	return r
}

func TestHandleCreateDecision(t *testing.T) {
	svc := &fakeService{decision: &domain.FinalDecision{
		ClientID:       "client-001",
		SolvencyStatus: domain.SolvencyStatusSolvent,
		CreditScore:    750,
		DegradedStages: []string{"explanation"},
	}}
	body := `{"client_id":" client-001 ","loan_request":"Je souhaite emprunter 200000 euros"}`

	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/decisions", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	if svc.clientID != "client-001" || !strings.Contains(svc.loan, "200000") {
		t.Errorf("service got client=%q loan=%q", svc.clientID, svc.loan)
	}

	var got domain.FinalDecision
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SolvencyStatus != domain.SolvencyStatusSolvent || got.CreditScore != 750 {
		t.Errorf("unexpected decision %+v", got)
	}
	if len(got.DegradedStages) != 1 || got.DegradedStages[0] != "explanation" {
		t.Errorf("degraded stages not passed through: %v", got.DegradedStages)
	}
}

func TestHandleCreateDecision_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantParam string
	}{
		{name: "malformed json", body: `{"client_id":`},
		{name: "missing client", body: `{"loan_request":"x"}`, wantParam: "client_id"},
		{name: "blank client", body: `{"client_id":"   "}`, wantParam: "client_id"},
		{name: "wrong type", body: `{"client_id":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/decisions", strings.NewReader(tt.body)))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if svc.calls != 0 {
				t.Error("pipeline should not run for an invalid request")
			}

			var resp struct {
				Error domain.APIError `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Type != domain.ErrorTypeInvalidRequest {
				t.Errorf("expected invalid_request, got %q", resp.Error.Type)
			}
			if resp.Error.Param != tt.wantParam {
				t.Errorf("expected param %q, got %q", tt.wantParam, resp.Error.Param)
			}
		})
	}
}

func TestHandleCreateDecision_TooLarge(t *testing.T) {
	body := `{"client_id":"client-001","loan_request":"` + strings.Repeat("a", maxRequestBytes) + `"}`
	rec := httptest.NewRecorder()
	newTestRouter(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/decisions", strings.NewReader(body)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestHandleCreateDecision_NilDecision(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/decisions", strings.NewReader(`{"client_id":"c"}`)))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/decisions", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
