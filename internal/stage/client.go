package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/solvency-gateway/internal/server"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultRetryBackoff = 250 * time.Millisecond

	// maxResponseBytes bounds how much of a stage reply is read.
	maxResponseBytes = 1 << 20
)

// ErrNoEndpoint is reported when a stage has no configured URL.
var ErrNoEndpoint = errors.New("no endpoint configured")

// Endpoint is where and how one stage is reached.
type Endpoint struct {
	URL          string
	Timeout      time.Duration // per attempt
	Retries      int           // extra attempts after the first
	RetryBackoff time.Duration
	Codec        Codec
}

// StatusError is returned for non-2xx stage replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stage returned status %d: %s", e.Code, e.Body)
}

// Diagnostic describes one stage invocation.
type Diagnostic struct {
	Stage     Name
	Endpoint  string
	Attempts  int
	Latency   time.Duration
	Succeeded bool
	Err       error
	// Defaulted lists fields of a usable reply that could not be read.
	Defaulted []*FieldError
}

// Observer receives the diagnostic of every invocation.
type Observer func(Diagnostic)

// Client invokes stage services. It is safe for concurrent use.
type Client struct {
	endpoints map[Name]Endpoint
	http      *http.Client
	logger    *slog.Logger
	resolver  *Resolver
	tracer    trace.Tracer
	observer  Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithResolver(r *Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a stage client for the given endpoints. Stages missing
// from endpoints always yield their default.
func NewClient(endpoints map[Name]Endpoint, opts ...Option) *Client {
	c := &Client{
		endpoints: make(map[Name]Endpoint, len(endpoints)),
		http:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:    slog.Default(),
		resolver:  DefaultResolver(),
		tracer:    otel.Tracer("github.com/tjfontaine/solvency-gateway/internal/stage"),
	}
	for name, ep := range endpoints {
		if ep.Timeout <= 0 {
			ep.Timeout = DefaultTimeout
		}
		if ep.Retries < 0 {
			ep.Retries = 0
		}
		if ep.RetryBackoff <= 0 {
			ep.RetryBackoff = DefaultRetryBackoff
		}
		if ep.Codec == nil {
			ep.Codec = SOAPCodec{}
		}
		c.endpoints[name] = ep
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the endpoint configured for a stage.
func (c *Client) Endpoint(name Name) (Endpoint, bool) {
	ep, ok := c.endpoints[name]
	return ep, ok
}

// Invoke calls the stage described by ct. On any failure it returns
// ct.Default and false; it never returns an error.
func Invoke[T any](ctx context.Context, c *Client, ct *Contract[T], req Request) (T, bool) {
	if c == nil || ct == nil {
		var zero T
		if ct != nil {
			zero = ct.Default
		}
		return zero, false
	}

	vals, ok := c.invoke(ctx, &ct.Spec, req)
	if !ok {
		return ct.Default, false
	}
	return ct.Build(vals), true
}

func (c *Client) invoke(ctx context.Context, spec *Spec, req Request) (vals Values, ok bool) {
	start := time.Now()
	diag := Diagnostic{Stage: spec.Stage}

	ctx, span := c.tracer.Start(ctx, "stage."+string(spec.Stage),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stage.name", string(spec.Stage)),
			attribute.String("stage.operation", spec.Operation),
		),
	)

	defer func() {
		if r := recover(); r != nil {
			vals, ok = nil, false
			diag.Err = fmt.Errorf("stage %s panicked: %v", spec.Stage, r)
		}
		diag.Latency = time.Since(start)
		diag.Succeeded = ok
		c.report(ctx, span, diag)
		span.End()
	}()

	vals, diag.Err = c.call(ctx, spec, req, &diag)
	return vals, diag.Err == nil
}

func (c *Client) call(ctx context.Context, spec *Spec, req Request, diag *Diagnostic) (Values, error) {
	ep, ok := c.endpoints[spec.Stage]
	if !ok || ep.URL == "" {
		return nil, ErrNoEndpoint
	}
	diag.Endpoint = ep.URL

	msg := spec.Message(req)
	body, err := ep.Codec.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	attempts := ep.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		diag.Attempts = attempt

		doc, err := c.do(ctx, ep, msg, body)
		if err == nil {
			vals, bad, err := spec.Extract(doc, c.resolver)
			diag.Defaulted = bad
			return vals, err
		}
		lastErr = err

		if attempt == attempts || !retryable(err) || ctx.Err() != nil {
			break
		}

		timer := time.NewTimer(ep.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, ep Endpoint, msg Message, body []byte) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range ep.Codec.Header(msg) {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if id := server.GetRequestID(ctx); id != "" {
		req.Header.Set(server.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stage request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Faults usually arrive with a 500; surface their text when present.
		if _, derr := ep.Codec.Decode(respBody); derr != nil {
			var fault *FaultError
			if errors.As(derr, &fault) {
				return nil, errors.Join(&StatusError{Code: resp.StatusCode}, fault)
			}
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}

	doc, err := ep.Codec.Decode(respBody)
	if err != nil {
		var fault *FaultError
		if errors.As(err, &fault) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc, nil
}

// retryable reports whether another attempt could succeed: transport
// failures, timeouts, 5xx and 429. Malformed replies are not retried.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var fault *FaultError
	if errors.As(err, &fault) || errors.Is(err, ErrMalformed) {
		return false
	}
	return true
}

func (c *Client) report(ctx context.Context, span trace.Span, d Diagnostic) {
	attrs := []slog.Attr{
		slog.String("stage", string(d.Stage)),
		slog.String("endpoint", d.Endpoint),
		slog.Int("attempts", d.Attempts),
		slog.Duration("latency", d.Latency),
		slog.Bool("succeeded", d.Succeeded),
	}
	if id := server.GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}

	span.SetAttributes(
		attribute.String("stage.endpoint", d.Endpoint),
		attribute.Int("stage.attempts", d.Attempts),
		attribute.Int64("stage.latency_ms", d.Latency.Milliseconds()),
		attribute.Bool("stage.succeeded", d.Succeeded),
	)

	if len(d.Defaulted) > 0 {
		fields := make([]string, len(d.Defaulted))
		for i, fe := range d.Defaulted {
			fields[i] = fe.Error()
		}
		attrs = append(attrs, slog.Any("defaulted_fields", fields))
		span.SetAttributes(attribute.StringSlice("stage.defaulted_fields", fields))
	}

	if d.Err != nil {
		attrs = append(attrs, slog.String("error", d.Err.Error()))
		span.RecordError(d.Err)
		span.SetStatus(codes.Error, d.Err.Error())
		c.logger.LogAttrs(ctx, slog.LevelWarn, "stage call degraded", attrs...)
	} else if len(d.Defaulted) > 0 {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "stage call with defaulted fields", attrs...)
	} else {
		c.logger.LogAttrs(ctx, slog.LevelInfo, "stage call", attrs...)
	}

	if c.observer != nil {
		c.observer(d)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
