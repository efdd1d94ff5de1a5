package stage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/server"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient points every named stage at url and records diagnostics.
func newTestClient(url string, ep Endpoint, diags *[]Diagnostic, names ...Name) *Client {
	endpoints := make(map[Name]Endpoint, len(names))
	for _, n := range names {
		e := ep
		e.URL = url
		endpoints[n] = e
	}
	return NewClient(endpoints,
		WithHTTPClient(http.DefaultClient),
		WithLogger(quietLogger()),
		WithObserver(func(d Diagnostic) { *diags = append(*diags, d) }),
	)
}

func TestInvoke_SOAP(t *testing.T) {
	var gotAction, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, creditScoreReply)
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{}, &diags, CreditScore)

	score, ok := Invoke(context.Background(), c, CreditScoreContract, CreditScoreRequest{
		History: domain.CreditHistory{Debt: 5000, LatePayments: 2},
	})

	if !ok {
		t.Fatalf("expected success, diagnostics: %+v", diags)
	}
	if score != 650 {
		t.Errorf("expected score 650, got %v", score)
	}
	if gotAction != "ComputeCreditScore" {
		t.Errorf("unexpected SOAPAction %q", gotAction)
	}
	if !strings.Contains(gotBody, "<urn:debt>5000</urn:debt>") {
		t.Errorf("request body missing debt:\n%s", gotBody)
	}
	if len(diags) != 1 || !diags[0].Succeeded || diags[0].Attempts != 1 || diags[0].Endpoint != srv.URL {
		t.Errorf("unexpected diagnostics %+v", diags)
	}
}

func TestInvoke_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected Content-Type %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"namespace":"urn:solvency.decision:v1","result":{"solvencyStatus":"solvent","report":"ok"}}`)
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{Codec: JSONCodec{}}, &diags, Decision)

	got, ok := Invoke(context.Background(), c, DecisionContract, DecisionRequest{ClientID: "client-001"})
	if !ok {
		t.Fatalf("expected success, diagnostics: %+v", diags)
	}
	if got.Status != domain.SolvencyStatusSolvent || got.Report != "ok" {
		t.Errorf("unexpected decision %+v", got)
	}
}

func TestInvoke_ForwardsRequestID(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(server.RequestIDHeader)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"namespace":"urn:solvency.decision:v1","result":{"solvencyStatus":"solvent","report":"ok"}}`)
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{Codec: JSONCodec{}}, &diags, Decision)

	ctx := context.WithValue(context.Background(), server.RequestIDKey, "4f0c7c1e-8d1a-4c55-9b7e-2d1f3c0a9e11")
	if _, ok := Invoke(ctx, c, DecisionContract, DecisionRequest{ClientID: "client-001"}); !ok {
		t.Fatalf("expected success, diagnostics: %+v", diags)
	}
	if gotID != "4f0c7c1e-8d1a-4c55-9b7e-2d1f3c0a9e11" {
		t.Errorf("request id not forwarded, got %q", gotID)
	}
}

func TestInvoke_RecordsSpan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	defer tp.Shutdown(context.Background())

	c := NewClient(map[Name]Endpoint{Decision: {URL: srv.URL, Codec: JSONCodec{}}},
		WithHTTPClient(http.DefaultClient),
		WithLogger(quietLogger()),
		WithResolver(DefaultResolver()),
		WithTracer(tp.Tracer("test")),
	)

	if _, ok := Invoke(context.Background(), c, DecisionContract, DecisionRequest{ClientID: "client-001"}); ok {
		t.Fatal("expected degraded call")
	}

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Name() != "stage.decision" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if ended[0].Status().Code.String() != "Error" {
		t.Errorf("span status = %v, want Error", ended[0].Status())
	}
}

func TestInvoke_NamespaceDrift(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<Envelope><Body><Resp xmlns="urn:creditscore.service:v2"><score>712</score></Resp></Body></Envelope>`)
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{}, &diags, CreditScore)

	score, ok := Invoke(context.Background(), c, CreditScoreContract, CreditScoreRequest{})
	if !ok || score != 712 {
		t.Errorf("expected 712 via local-name lookup, got %v, %v", score, ok)
	}
}

func TestInvoke_ExtractionWithPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ie="urn:ie.service:v1">
  <soapenv:Body>
    <ie:ExtractInformationResponse>
      <ie:amount>250000</ie:amount>
      <ie:duration_years>Non précisée</ie:duration_years>
      <ie:property_type>maison</ie:property_type>
      <ie:location>Lyon</ie:location>
    </ie:ExtractInformationResponse>
  </soapenv:Body>
</soapenv:Envelope>`)
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{}, &diags, Extraction)

	got, ok := Invoke(context.Background(), c, ExtractionContract, ExtractionRequest{Text: "maison à Lyon pour 250000 euros"})
	if !ok {
		t.Fatalf("expected success, diagnostics: %+v", diags)
	}
	want := domain.ExtractionResult{
		Amount:        250000,
		DurationYears: 0,
		PropertyType:  "maison",
		Location:      "Lyon",
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if len(diags) != 1 || len(diags[0].Defaulted) != 1 || diags[0].Defaulted[0].Field != "duration_years" {
		t.Errorf("expected duration_years reported as defaulted, got %+v", diags)
	}
}

func TestInvoke_NoEndpoint(t *testing.T) {
	var diags []Diagnostic
	c := newTestClient("", Endpoint{}, &diags)

	got, ok := Invoke(context.Background(), c, ApprovalContract, ApprovalRequest{})
	if ok {
		t.Fatal("expected failure")
	}
	if got != DefaultApproval {
		t.Errorf("expected default approval, got %+v", got)
	}
	if len(diags) != 1 || !errors.Is(diags[0].Err, ErrNoEndpoint) {
		t.Errorf("unexpected diagnostics %+v", diags)
	}
}

func TestInvoke_NilClient(t *testing.T) {
	got, ok := Invoke(context.Background(), nil, PropertyEvaluationContract, PropertyEvaluationRequest{})
	if ok || got != DefaultPropertyEvaluation {
		t.Errorf("expected default, got %+v, %v", got, ok)
	}
}

func TestInvoke_Retries(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		retries  int
		attempts int32
	}{
		{"server error retried", http.StatusInternalServerError, "boom", 2, 3},
		{"throttled retried", http.StatusTooManyRequests, "slow down", 1, 2},
		{"client error not retried", http.StatusBadRequest, "bad", 2, 1},
		{"malformed not retried", http.StatusOK, "<<<", 2, 1},
		{"no retries configured", http.StatusBadGateway, "", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			var diags []Diagnostic
			c := newTestClient(srv.URL, Endpoint{Retries: tt.retries, RetryBackoff: time.Millisecond}, &diags, DebtRatio)

			got, ok := Invoke(context.Background(), c, DebtRatioContract, DebtRatioRequest{})
			if ok || got != DefaultDebtRatio {
				t.Errorf("expected default, got %v, %v", got, ok)
			}
			if calls.Load() != tt.attempts {
				t.Errorf("expected %d calls, got %d", tt.attempts, calls.Load())
			}
			if len(diags) != 1 || diags[0].Attempts != int(tt.attempts) {
				t.Errorf("unexpected diagnostics %+v", diags)
			}
		})
	}
}

func TestInvoke_RecoversAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, creditScoreReply)
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{Retries: 1, RetryBackoff: time.Millisecond}, &diags, CreditScore)

	score, ok := Invoke(context.Background(), c, CreditScoreContract, CreditScoreRequest{})
	if !ok || score != 650 {
		t.Errorf("expected 650 on second attempt, got %v, %v", score, ok)
	}
	if diags[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", diags[0].Attempts)
	}
}

func TestInvoke_Fault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><soap:Fault><faultcode>soap:Client</faultcode><faultstring>Client introuvable</faultstring></soap:Fault></soap:Body></soap:Envelope>`)
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{}, &diags, Explanation)

	got, ok := Invoke(context.Background(), c, ExplanationContract, ExplanationRequest{})
	if ok || got != DefaultExplanation {
		t.Errorf("expected default, got %+v, %v", got, ok)
	}

	var fault *FaultError
	if len(diags) != 1 || !errors.As(diags[0].Err, &fault) {
		t.Fatalf("expected fault in diagnostics, got %+v", diags)
	}
	if fault.String != "Client introuvable" {
		t.Errorf("unexpected fault %+v", fault)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{Timeout: 50 * time.Millisecond}, &diags, Extraction)

	start := time.Now()
	got, ok := Invoke(context.Background(), c, ExtractionContract, ExtractionRequest{Text: "..."})
	if ok || got != DefaultExtraction {
		t.Errorf("expected default extraction, got %+v, %v", got, ok)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestInvoke_CancelledContextStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var diags []Diagnostic
	c := newTestClient(srv.URL, Endpoint{Retries: 5, RetryBackoff: time.Hour}, &diags, Approval)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	got, ok := Invoke(ctx, c, ApprovalContract, ApprovalRequest{})
	if ok || got.Approved {
		t.Errorf("expected rejection default, got %+v, %v", got, ok)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls.Load())
	}
	if !errors.Is(diags[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in error, got %v", diags[0].Err)
	}
}
