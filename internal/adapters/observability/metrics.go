package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/adapters/homeassistant"
	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics satisfies the state cache, login guard and remote client observer
// hooks.
type Metrics struct {
	gatherer prometheus.Gatherer

	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	loginFailures prometheus.Counter
	bans          prometheus.Counter
	remoteLatency *prometheus.HistogramVec
	remoteErrors  *prometheus.CounterVec
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "explorer_state_cache_hits_total",
			Help: "State snapshot requests served from the cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "explorer_state_cache_misses_total",
			Help: "State snapshot requests that triggered a remote fetch.",
		}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "explorer_login_failures_total",
			Help: "Failed login attempts.",
		}),
		bans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "explorer_address_bans_total",
			Help: "Source addresses banned after repeated failed logins.",
		}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "explorer_remote_request_seconds",
			Help:    "Latency of Home Assistant API calls.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "explorer_remote_errors_total",
			Help: "Failed Home Assistant API calls by kind.",
		}, []string{"op", "kind"}),
	}
	reg.MustRegister(m.cacheHits, m.cacheMisses, m.loginFailures, m.bans, m.remoteLatency, m.remoteErrors)
	return m
}

func (m *Metrics) CacheHit()      { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss()     { m.cacheMisses.Inc() }
func (m *Metrics) LoginFailed()   { m.loginFailures.Inc() }
func (m *Metrics) AddressBanned() { m.bans.Inc() }

func (m *Metrics) ObserveRemoteCall(op string, elapsed time.Duration, err error) {
	m.remoteLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.remoteErrors.WithLabelValues(op, errorKind(err)).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, homeassistant.ErrAuthentication):
		return "auth"
	case errors.Is(err, homeassistant.ErrNotFound):
		return "not_found"
	case errors.Is(err, homeassistant.ErrTimeout):
		return "timeout"
	case errors.Is(err, homeassistant.ErrConnection):
		return "connection"
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return "server"
	default:
		return "unexpected"
	}
}
