package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncheck"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCheck(t *testing.T) {
	t.Parallel()
	m := New()
	ctx := context.Background()
	android := versioncheck.Request{CurrentVersion: "1.0.0", Platform: versioncheck.PlatformAndroid}

	m.ObserveCheck(ctx, android, versioncheck.Result{Source: versioncheck.SourceNetwork}, 20*time.Millisecond)
	m.ObserveCheck(ctx, android, versioncheck.Result{Source: versioncheck.SourceCache}, time.Millisecond)
	m.ObserveCheck(ctx, android, versioncheck.Result{Source: versioncheck.SourceCache}, time.Millisecond)
	m.ObserveCheck(ctx, versioncheck.Request{Platform: "Symbian"}, versioncheck.Result{Source: versioncheck.SourceSynthesized}, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.checks.WithLabelValues("network", "android")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.checks.WithLabelValues("cache", "android")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.checks.WithLabelValues("synthesized", "unknown")), 0)
	assert.Equal(t, 3, testutil.CollectAndCount(m.checkDuration), "one histogram per source")
}

func TestObserveCacheError(t *testing.T) {
	t.Parallel()
	m := New()

	m.ObserveCacheError(context.Background(), versioncheck.CacheOpGet, errors.New("disk full"))
	m.ObserveCacheError(context.Background(), versioncheck.CacheOpGet, errors.New("disk full"))
	m.ObserveCacheError(context.Background(), versioncheck.CacheOpSet, errors.New("disk full"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.cacheErrors.WithLabelValues("get")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheErrors.WithLabelValues("set")), 0)
}

func TestOutcomeOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, OutcomeFailure, OutcomeOf(versioncheck.Result{Success: false, UpdateAvailable: true}))
	assert.Equal(t, OutcomeUpdate, OutcomeOf(versioncheck.Result{Success: true, UpdateAvailable: true}))
	assert.Equal(t, OutcomeUpToDate, OutcomeOf(versioncheck.Result{Success: true}))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveServerRequest("ios", OutcomeUpdate)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `updatecheck_server_requests_total{outcome="update",platform="ios"} 1`)
}

// The checker drives the observer end to end.
func TestMetrics_AsCheckerObserver(t *testing.T) {
	t.Parallel()
	m := New()
	fetcher := versioncheck.FetcherFunc(func(context.Context, versioncheck.Request) (versioncheck.Result, error) {
		return versioncheck.Result{Success: true, LatestVersion: "2.0.0"}, nil
	})
	c := versioncheck.New(versioncheck.DefaultConfig(), versioncheck.WithFetcher(fetcher), versioncheck.WithObserver(m))

	req := versioncheck.Request{CurrentVersion: "1.0.0", Platform: versioncheck.PlatformIOS}
	c.Check(context.Background(), req)
	c.Check(context.Background(), req)

	assert.InDelta(t, 1, testutil.ToFloat64(m.checks.WithLabelValues("network", "ios")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.checks.WithLabelValues("cache", "ios")), 0)
}
