package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/adapters/homeassistant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.LoginFailed()
	m.AddressBanned()

	if got := testutil.ToFloat64(m.cacheHits); got != 2 {
		t.Fatalf("expected 2 cache hits, got %f", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses); got != 1 {
		t.Fatalf("expected 1 cache miss, got %f", got)
	}
	if got := testutil.ToFloat64(m.loginFailures); got != 1 {
		t.Fatalf("expected 1 login failure, got %f", got)
	}
	if got := testutil.ToFloat64(m.bans); got != 1 {
		t.Fatalf("expected 1 ban, got %f", got)
	}
}

func TestRemoteCallMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveRemoteCall("history", 20*time.Millisecond, nil)
	m.ObserveRemoteCall("history", time.Second, &homeassistant.RemoteError{Op: "history", Err: homeassistant.ErrTimeout})
	m.ObserveRemoteCall("states", time.Millisecond, &homeassistant.RemoteError{Op: "states", StatusCode: 401, Err: homeassistant.ErrAuthentication})
	m.ObserveRemoteCall("states", time.Millisecond, errors.New("odd"))

	if samples := testutil.CollectAndCount(m.remoteLatency); samples != 2 {
		t.Fatalf("expected 2 latency series, got %d", samples)
	}
	if got := testutil.ToFloat64(m.remoteErrors.WithLabelValues("history", "timeout")); got != 1 {
		t.Fatalf("expected 1 timeout, got %f", got)
	}
	if got := testutil.ToFloat64(m.remoteErrors.WithLabelValues("states", "auth")); got != 1 {
		t.Fatalf("expected 1 auth error, got %f", got)
	}
	if got := testutil.ToFloat64(m.remoteErrors.WithLabelValues("states", "unexpected")); got != 1 {
		t.Fatalf("expected 1 unexpected error, got %f", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.CacheMiss()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "explorer_state_cache_misses_total 1") {
		t.Fatalf("expected cache miss metric in output:\n%s", rec.Body.String())
	}
}
