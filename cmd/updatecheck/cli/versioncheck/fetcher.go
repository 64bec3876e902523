package versioncheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/logging"
	"github.com/entireio/updatecheck/redact"
)

// Fetch failures. Every error a Fetcher returns sends the Checker down the
// stale-cache fallback path.
var (
	// ErrTransport covers dial, DNS, TLS and timeout failures.
	ErrTransport = errors.New("version service unreachable")
	// ErrSchema means the response body is not a version check result.
	ErrSchema = errors.New("unexpected version service response")
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	// Body is a redacted, truncated copy of the response body.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("version service returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("version service returned HTTP %d: %s", e.Code, e.Body)
}

// Fetcher obtains version data for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Result, error)
}

// FetcherFunc adapts a function into a Fetcher, typically an offline source.
type FetcherFunc func(ctx context.Context, req Request) (Result, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

const (
	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20

	// errorBodyLimit caps the body excerpt carried by StatusError.
	errorBodyLimit = 512
)

// HTTPFetcher POSTs the request as JSON to a version service.
type HTTPFetcher struct {
	url       string
	timeout   time.Duration
	userAgent string
	headers   map[string]string
	client    *http.Client
}

// NewHTTPFetcher builds a fetcher from cfg. A nil client means a fresh
// http.Client.
func NewHTTPFetcher(cfg Config, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{
		url:       cfg.APIURL,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		headers:   cfg.Headers,
		client:    client,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	if f.url == "" {
		return Result{}, fmt.Errorf("%w: no API URL configured", ErrTransport)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: creating request: %w", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	for k, v := range f.headers {
		httpReq.Header.Set(k, v)
	}
	logging.Debug(ctx, "version check request",
		slog.String("url", redact.String(f.url)),
		slog.Any("headers", redact.Headers(f.headers)),
	)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &StatusError{Code: resp.StatusCode, Body: redact.Snippet(data, errorBodyLimit)}
	}

	return decodeResult(data)
}

// decodeResult parses a response body. The "success" key is required so an
// arbitrary JSON object is not mistaken for a result.
func decodeResult(data []byte) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	if _, ok := fields["success"]; !ok {
		return Result{}, fmt.Errorf("%w: missing %q field", ErrSchema, "success")
	}

	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return r, nil
}

// describeFetchError turns a fetch error into the message of a synthesized
// failure result. URLs in transport errors may carry credentials, so the
// text is redacted. The message is never empty.
func describeFetchError(err error) string {
	if msg := fetchErrorText(err); msg != "" {
		return msg
	}
	return genericFailureMessage
}

func fetchErrorText(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "version check timed out"
	case errors.Is(err, context.Canceled):
		return "version check canceled"
	default:
		return redact.String(strings.TrimSpace(err.Error()))
	}
}
