package application

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/sirupsen/logrus"
)

const DefaultStateTTL = 60 * time.Second

type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

type stateEntry struct {
	snapshot  []domain.StateEntry
	fetchedAt time.Time
}

// StateCache holds at most one snapshot of all current states. The mutex is
// held across the remote fetch, so concurrent misses share a single call.
type StateCache struct {
	mu     sync.Mutex
	source domain.StateSource
	ttl    time.Duration
	now    func() time.Time
	entry  *stateEntry
	obs    CacheObserver
	log    logrus.FieldLogger
}

type StateCacheOption func(*StateCache)

func WithCacheObserver(obs CacheObserver) StateCacheOption {
	return func(c *StateCache) { c.obs = obs }
}

func WithCacheClock(now func() time.Time) StateCacheOption {
	return func(c *StateCache) { c.now = now }
}

func WithCacheLogger(log logrus.FieldLogger) StateCacheOption {
	return func(c *StateCache) { c.log = log }
}

func NewStateCache(source domain.StateSource, opts ...StateCacheOption) *StateCache {
	c := &StateCache{
		source: source,
		ttl:    DefaultStateTTL,
		now:    time.Now,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the cached states, fetching them when the entry is missing,
// older than the TTL, or forceRefresh is set. A failed fetch leaves the
// previous entry in place.
func (c *StateCache) Snapshot(ctx context.Context, forceRefresh bool) ([]domain.StateEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !forceRefresh && c.entry != nil && now.Sub(c.entry.fetchedAt) < c.ttl {
		if c.obs != nil {
			c.obs.CacheHit()
		}
		return c.entry.snapshot, nil
	}
	if c.obs != nil {
		c.obs.CacheMiss()
	}

	states, err := c.source.States(ctx)
	if err != nil {
		c.log.WithError(err).Warn("state refresh failed")
		return nil, err
	}
	if states == nil {
		states = []domain.StateEntry{}
	}
	c.entry = &stateEntry{snapshot: states, fetchedAt: c.now()}
	c.log.WithField("count", len(states)).Debug("state cache refreshed")
	return states, nil
}

// Summaries projects the snapshot into list rows sorted by friendly name,
// case-insensitively.
func (c *StateCache) Summaries(ctx context.Context) ([]domain.EntitySummary, error) {
	states, err := c.Snapshot(ctx, false)
	if err != nil {
		return nil, err
	}
	return Summarize(states), nil
}

func Summarize(states []domain.StateEntry) []domain.EntitySummary {
	out := make([]domain.EntitySummary, 0, len(states))
	for _, st := range states {
		out = append(out, domain.EntitySummary{
			EntityID:     st.EntityID,
			FriendlyName: stringAttr(st.Attributes, "friendly_name", st.EntityID),
			Domain:       domain.DomainOf(st.EntityID),
			State:        defaultString(st.State, "unknown"),
			Icon:         stringAttr(st.Attributes, "icon", ""),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].FriendlyName) < strings.ToLower(out[j].FriendlyName)
	})
	return out
}

func stringAttr(attrs map[string]any, key, fallback string) string {
	if v, ok := attrs[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}
	return input
}
