package versioncheck

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/cachestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher(url string) *HTTPFetcher {
	cfg := DefaultConfig()
	cfg.APIURL = url
	cfg.Timeout = 2 * time.Second
	return NewHTTPFetcher(cfg, nil)
}

func TestHTTPFetcher_SendsRequest(t *testing.T) {
	t.Parallel()

	var (
		gotMethod string
		gotHeader http.Header
		gotBody   map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"current_version":"1.0.0","platform":"android","update_available":true,"force_update":false,"latest_version":"1.2.0","release_notes":{"en":"Fixes","de":"Korrekturen"}}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIURL = server.URL
	cfg.UserAgent = "example-app/1.0.0"
	cfg.Headers = map[string]string{"x-app-key": "k-123"}
	f := NewHTTPFetcher(cfg, server.Client())

	res, err := f.Fetch(context.Background(), Request{CurrentVersion: "1.0.0", Platform: PlatformAndroid, BuildNumber: "123"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "application/json", gotHeader.Get("Accept"))
	assert.Equal(t, "example-app/1.0.0", gotHeader.Get("User-Agent"))
	assert.Equal(t, "k-123", gotHeader.Get("X-App-Key"))
	assert.Equal(t, map[string]any{
		"current_version": "1.0.0",
		"platform":        "android",
		"build_number":    "123",
	}, gotBody, "absent locale is omitted")

	assert.True(t, res.Success)
	assert.True(t, res.UpdateAvailable)
	assert.Equal(t, "1.2.0", res.LatestVersion)
	require.True(t, res.ReleaseNotes.IsLocalized())
	assert.Equal(t, "Korrekturen", res.ReleaseNotes.For("de"))
}

func TestHTTPFetcher_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "non-2xx",
			status: http.StatusServiceUnavailable,
			body:   `{"error":"down for maintenance"}`,
			check: func(t *testing.T, err error) {
				t.Helper()
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusServiceUnavailable, se.Code)
				assert.Contains(t, se.Body, "down for maintenance")
				assert.Contains(t, err.Error(), "503")
			},
		},
		{
			name:   "not json",
			status: http.StatusOK,
			body:   `<html>captive portal</html>`,
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, ErrSchema)
			},
		},
		{
			name:   "json without success",
			status: http.StatusOK,
			body:   `{"status":"ok"}`,
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, ErrSchema)
			},
		},
		{
			name:   "wrong field type",
			status: http.StatusOK,
			body:   `{"success":"yes"}`,
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, ErrSchema)
			},
		},
		{
			name:   "bad release notes shape",
			status: http.StatusOK,
			body:   `{"success":true,"release_notes":[1,2]}`,
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, ErrSchema)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newFetcher(server.URL).Fetch(context.Background(), testRequest())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHTTPFetcher_StatusErrorBodyIsRedacted(t *testing.T) {
	t.Parallel()
	const secret = "sk-live-9fK2mZ8vL1nQ5rT7wY4bC3dF0gH6jE"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key ` + secret + `"}`))
	}))
	defer server.Close()

	_, err := newFetcher(server.URL).Fetch(context.Background(), testRequest())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.NotContains(t, se.Body, secret)
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.APIURL = server.URL
	cfg.Timeout = 50 * time.Millisecond

	_, err := NewHTTPFetcher(cfg, nil).Fetch(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "version check timed out", describeFetchError(err))
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newFetcher(url).Fetch(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrTransport)

	_, err = newFetcher("").Fetch(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrTransport)
}

// A timed out service is a fetch failure: the checker falls back to the
// stale entry exactly as for any other transport error.
func TestChecker_TimeoutFallsBackToStale(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	clock := newTestClock()
	cache := cachestore.NewMemory()
	req := testRequest()
	seed(t, cache, req, updateResult("1.2.0"), clock.Now().Add(-24*time.Hour))

	cfg := testConfig()
	cfg.APIURL = server.URL
	cfg.Timeout = 50 * time.Millisecond

	res := New(cfg, WithCache(cache), WithClock(clock.Now)).Check(context.Background(), req)
	assert.True(t, res.Success)
	assert.Equal(t, SourceStaleCache, res.Source)

	res = New(cfg, WithClock(clock.Now)).Check(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, "version check timed out", res.Error)
}

func TestChecker_HTTPStatusFailureMessage(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.APIURL = server.URL
	res := New(cfg).Check(context.Background(), testRequest())

	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "version service returned HTTP 502"), res.Error)
	assert.Contains(t, res.Error, "upstream exploded")
}

func TestDescribeFetchError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "version check canceled", describeFetchError(context.Canceled))
	assert.Equal(t, "version service returned HTTP 500", describeFetchError(&StatusError{Code: 500}))
	assert.Equal(t, "boom", describeFetchError(errors.New(" boom ")))
	assert.Equal(t, "version check failed", describeFetchError(errors.New("")))
	assert.Equal(t, "version check failed", describeFetchError(errors.New("  ")))
}

func TestChecker_EmptyFetchErrorStillHasMessage(t *testing.T) {
	t.Parallel()
	fetcher := FetcherFunc(func(context.Context, Request) (Result, error) {
		return Result{}, errors.New("")
	})
	c := New(DefaultConfig(), WithFetcher(fetcher))

	res := c.Check(context.Background(), Request{CurrentVersion: "1.0.0", Platform: PlatformIOS})

	assert.False(t, res.Success)
	assert.Equal(t, SourceSynthesized, res.Source)
	assert.Equal(t, "version check failed", res.Error)
}
