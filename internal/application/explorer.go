package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/sirupsen/logrus"
)

const DetailsTolerance = 5 * time.Minute

type ExplorerConfig struct {
	Language           string
	DefaultHistoryDays int
	RemoteURL          string
}

type PublicConfig struct {
	Language           string `json:"language"`
	DefaultHistoryDays int    `json:"defaultHistoryDays"`
	HAURL              string `json:"haUrl"`
}

type HistoryResult struct {
	EntityID string
	Start    time.Time
	End      time.Time
	Series   domain.Series
}

func (r HistoryResult) Count() int { return r.Series.Len() }

type AttributeResult struct {
	EntityID string
	Start    time.Time
	End      time.Time
	Series   *domain.AttributeSeries
}

// ExportedEntry is a raw history row with its normalized timestamp.
type ExportedEntry struct {
	domain.HistoryEntry
	Timestamp string `json:"timestamp"`
}

// Explorer is the read side: entity listing and history queries, each gated
// by the access policy.
type Explorer struct {
	policy *domain.AccessPolicy
	cache  *StateCache
	remote domain.HistorySource
	finder *RangeFinder
	cfg    ExplorerConfig
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewExplorer(policy *domain.AccessPolicy, cache *StateCache, remote domain.HistorySource, finder *RangeFinder, cfg ExplorerConfig, log logrus.FieldLogger) *Explorer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.DefaultHistoryDays <= 0 {
		cfg.DefaultHistoryDays = 4
	}
	return &Explorer{
		policy: policy,
		cache:  cache,
		remote: remote,
		finder: finder,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

func (e *Explorer) PublicConfig() PublicConfig {
	return PublicConfig{
		Language:           e.cfg.Language,
		DefaultHistoryDays: e.cfg.DefaultHistoryDays,
		HAURL:              e.cfg.RemoteURL,
	}
}

// ListEntities returns the allowed entities; denied ones are dropped silently.
func (e *Explorer) ListEntities(ctx context.Context) ([]domain.EntitySummary, error) {
	items, err := e.cache.Summaries(ctx)
	if err != nil {
		return nil, err
	}
	return e.policy.Filter(items), nil
}

// RefreshStates forces a new snapshot and returns its size.
func (e *Explorer) RefreshStates(ctx context.Context) (int, error) {
	states, err := e.cache.Snapshot(ctx, true)
	if err != nil {
		return 0, err
	}
	return len(states), nil
}

// ResolveWindow parses optional start and end query values. A missing end is
// now; a missing start is DefaultHistoryDays before end.
func (e *Explorer) ResolveWindow(entityID, startRaw, endRaw string) (domain.HistoryWindow, error) {
	end := e.now().UTC()
	if strings.TrimSpace(endRaw) != "" {
		parsed, err := ParseTimestamp(endRaw)
		if err != nil {
			return domain.HistoryWindow{}, domain.MalformedInput("invalid end time %q", endRaw)
		}
		end = parsed
	}
	start := end.Add(-time.Duration(e.cfg.DefaultHistoryDays) * 24 * time.Hour)
	if strings.TrimSpace(startRaw) != "" {
		parsed, err := ParseTimestamp(startRaw)
		if err != nil {
			return domain.HistoryWindow{}, domain.MalformedInput("invalid start time %q", startRaw)
		}
		start = parsed
	}
	w := domain.HistoryWindow{EntityID: entityID, Start: start, End: end}
	return w, w.Validate()
}

func (e *Explorer) GetHistory(ctx context.Context, w domain.HistoryWindow) (HistoryResult, error) {
	entries, err := e.fetch(ctx, w, false)
	if err != nil {
		return HistoryResult{}, err
	}
	return HistoryResult{
		EntityID: w.EntityID,
		Start:    w.Start,
		End:      w.End,
		Series:   TransformHistory(w.EntityID, entries),
	}, nil
}

func (e *Explorer) GetAttributeHistory(ctx context.Context, w domain.HistoryWindow, keyPath string) (AttributeResult, error) {
	if strings.TrimSpace(keyPath) == "" {
		return AttributeResult{}, domain.MalformedInput("attribute key is required")
	}
	entries, err := e.fetch(ctx, w, false)
	if err != nil {
		return AttributeResult{}, err
	}
	return AttributeResult{
		EntityID: w.EntityID,
		Start:    w.Start,
		End:      w.End,
		Series:   TransformAttribute(keyPath, entries),
	}, nil
}

func (e *Explorer) GetAvailableRange(ctx context.Context, entityID string) (domain.AvailableRange, error) {
	if !e.policy.IsAllowed(entityID) {
		return domain.AvailableRange{}, domain.ErrAccessDenied
	}
	earliest, latest, err := e.finder.FindEarliest(ctx, entityID)
	if err != nil {
		return domain.AvailableRange{}, err
	}
	return domain.AvailableRange{EntityID: entityID, Earliest: earliest, Latest: latest}, nil
}

// GetDetails returns the raw entry closest to at within DetailsTolerance.
func (e *Explorer) GetDetails(ctx context.Context, entityID string, at time.Time) (domain.HistoryEntry, error) {
	w := domain.HistoryWindow{EntityID: entityID, Start: at.Add(-DetailsTolerance), End: at.Add(DetailsTolerance)}
	entries, err := e.fetch(ctx, w, false)
	if err != nil {
		return domain.HistoryEntry{}, err
	}

	var best *domain.HistoryEntry
	var bestDiff time.Duration
	for i := range entries {
		ts, err := ParseTimestamp(entries[i].Timestamp())
		if err != nil {
			continue
		}
		diff := ts.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if best == nil || diff < bestDiff {
			best = &entries[i]
			bestDiff = diff
		}
	}
	if best == nil {
		return domain.HistoryEntry{}, fmt.Errorf("%w: no entry near %s", domain.ErrNoData, at.Format(time.RFC3339))
	}
	return *best, nil
}

func (e *Explorer) ExportHistory(ctx context.Context, w domain.HistoryWindow) ([]ExportedEntry, error) {
	entries, err := e.fetch(ctx, w, false)
	if err != nil {
		return nil, err
	}
	out := make([]ExportedEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, ExportedEntry{HistoryEntry: entry, Timestamp: entry.Timestamp()})
	}
	return out, nil
}

// ExportAttribute lists the non-nil values found at keyPath.
func (e *Explorer) ExportAttribute(ctx context.Context, w domain.HistoryWindow, keyPath string) ([]domain.AttributePoint, error) {
	res, err := e.GetAttributeHistory(ctx, w, keyPath)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AttributePoint, 0, res.Series.Len())
	for i, v := range res.Series.Values {
		if v == nil {
			continue
		}
		out = append(out, domain.AttributePoint{Timestamp: res.Series.Timestamps[i], Value: v})
	}
	return out, nil
}

func (e *Explorer) fetch(ctx context.Context, w domain.HistoryWindow, minimal bool) ([]domain.HistoryEntry, error) {
	if !e.policy.IsAllowed(w.EntityID) {
		return nil, domain.ErrAccessDenied
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	entries, err := e.remote.History(ctx, w.EntityID, w.Start, w.End, minimal)
	if err != nil {
		e.log.WithError(err).WithField("entity_id", w.EntityID).Warn("history fetch failed")
		return nil, err
	}
	return entries, nil
}
