package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// NewVCRRecorder replays the cassette testdata/fixtures/<name>.yaml.
// Set VCR_MODE=record to capture a fresh cassette from live stage services.
func NewVCRRecorder(t *testing.T, cassetteName string) (*recorder.Recorder, func()) {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	cassettePath := filepath.Join("testdata", "fixtures", cassetteName)

	r, err := recorder.NewAsMode(cassettePath, mode, nil)
	if err != nil {
		t.Fatalf("Failed to create VCR recorder: %v", err)
	}

	// Stage calls are all POSTs to a per-stage URL; the SOAPAction header
	// tells apart operations that share one URL.
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method &&
			r.URL.String() == i.URL &&
			r.Header.Get("SOAPAction") == i.Headers.Get("SOAPAction")
	})

	// Trace and request correlation headers differ on every run.
	r.AddSaveFilter(func(i *cassette.Interaction) error {
		i.Request.Headers.Del("Traceparent")
		i.Request.Headers.Del("Tracestate")
		i.Request.Headers.Del("X-Request-Id")
		i.Response.Headers.Del("X-Request-Id")
		i.Response.Headers.Del("Date")
		return nil
	})

	cleanup := func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Failed to stop VCR recorder: %v", err)
		}
	}

	return r, cleanup
}

// VCRHTTPClient returns an HTTP client that sends through the recorder.
func VCRHTTPClient(r *recorder.Recorder) *http.Client {
	return &http.Client{
		Transport: r,
	}
}
