package application

import (
	"context"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/sirupsen/logrus"
)

var DefaultProbeOffsets = []time.Duration{
	30 * 24 * time.Hour,
	14 * 24 * time.Hour,
	7 * 24 * time.Hour,
	3 * 24 * time.Hour,
	24 * time.Hour,
}

const DefaultProbeWidth = time.Hour

// RangeFinder estimates how far back an entity's history goes by probing
// narrow windows, oldest first, and stopping at the first one with data.
type RangeFinder struct {
	Source  domain.HistorySource
	Offsets []time.Duration
	Width   time.Duration
	Now     func() time.Time
	Log     logrus.FieldLogger
}

func NewRangeFinder(source domain.HistorySource, log logrus.FieldLogger) *RangeFinder {
	return &RangeFinder{
		Source:  source,
		Offsets: DefaultProbeOffsets,
		Width:   DefaultProbeWidth,
		Now:     time.Now,
		Log:     log,
	}
}

// FindEarliest returns the timestamp of the first entry in the oldest
// non-empty probe window, or nil when every probe came back empty. latest is
// the time the search started.
func (f *RangeFinder) FindEarliest(ctx context.Context, entityID string) (earliest *time.Time, latest time.Time, err error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	width := f.Width
	if width <= 0 {
		width = DefaultProbeWidth
	}
	latest = now()

	for _, offset := range f.Offsets {
		start := latest.Add(-offset)
		entries, err := f.Source.History(ctx, entityID, start, start.Add(width), true)
		if err != nil {
			return nil, latest, err
		}
		if len(entries) == 0 {
			continue
		}
		ts := entries[0].Timestamp()
		parsed, perr := ParseTimestamp(ts)
		if perr != nil {
			if f.Log != nil {
				f.Log.WithFields(logrus.Fields{"entity_id": entityID, "timestamp": ts}).Warn("unparsable history timestamp, using probe start")
			}
			parsed = start
		}
		return &parsed, latest, nil
	}
	return nil, latest, nil
}
