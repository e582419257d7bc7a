package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExplorerFixture(remote *fakeRemote, whitelist, blacklist []string) *Explorer {
	policy := domain.NewAccessPolicy(whitelist, blacklist)
	return NewExplorer(policy, NewStateCache(remote), remote, NewRangeFinder(remote, nil), ExplorerConfig{Language: "en", DefaultHistoryDays: 4, RemoteURL: "http://ha:8123"}, nil)
}

func TestListEntitiesDropsDeniedSilently(t *testing.T) {
	remote := &fakeRemote{states: []domain.StateEntry{
		{EntityID: "climate.kitchen", State: "heat"},
		{EntityID: "sensor.outdoor", State: "5"},
	}}
	explorer := newExplorerFixture(remote, []string{"climate.*"}, nil)

	items, err := explorer.ListEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "climate.kitchen", items[0].EntityID)
}

func TestHistoryOfDeniedEntityNeverReachesRemote(t *testing.T) {
	remote := &fakeRemote{}
	explorer := newExplorerFixture(remote, nil, []string{"sensor.debug_*"})
	w := domain.HistoryWindow{EntityID: "sensor.debug_raw", Start: time.Now().Add(-time.Hour), End: time.Now()}

	_, err := explorer.GetHistory(context.Background(), w)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	_, err = explorer.GetAttributeHistory(context.Background(), w, "a")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	_, err = explorer.GetAvailableRange(context.Background(), "sensor.debug_raw")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Empty(t, remote.calls)
}

func TestGetHistoryTransformsAndReportsCount(t *testing.T) {
	remote := &fakeRemote{history: map[string][]domain.HistoryEntry{
		"sensor.temp": {{LastChanged: "T1", State: strp("1")}, {LastChanged: "T2", State: strp("2")}},
	}}
	explorer := newExplorerFixture(remote, nil, nil)
	w := domain.HistoryWindow{EntityID: "sensor.temp", Start: time.Now().Add(-time.Hour), End: time.Now()}

	res, err := explorer.GetHistory(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count())
	assert.IsType(t, &domain.NumericSeries{}, res.Series)
	require.Len(t, remote.calls, 1)
	assert.False(t, remote.calls[0].minimal)
}

func TestResolveWindow(t *testing.T) {
	explorer := newExplorerFixture(&fakeRemote{}, nil, nil)
	fixed := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	explorer.now = func() time.Time { return fixed }

	w, err := explorer.ResolveWindow("sensor.a", "", "")
	require.NoError(t, err)
	assert.True(t, w.End.Equal(fixed))
	assert.True(t, w.Start.Equal(fixed.Add(-4*24*time.Hour)))

	w, err = explorer.ResolveWindow("sensor.a", "2024-03-01T00:00:00Z", "2024-03-02 00:00:00")
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, w.End.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))

	_, err = explorer.ResolveWindow("sensor.a", "not a date", "")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = explorer.ResolveWindow("sensor.a", "2024-03-02T00:00:00Z", "2024-03-01T00:00:00Z")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestGetDetailsPicksClosestEntry(t *testing.T) {
	at := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	remote := &fakeRemote{history: map[string][]domain.HistoryEntry{
		"sensor.a": {
			{LastChanged: "2024-03-10T07:57:00+00:00", State: strp("far")},
			{LastChanged: "2024-03-10T08:01:00+00:00", State: strp("near")},
			{LastChanged: "garbage", State: strp("skip")},
		},
	}}
	explorer := newExplorerFixture(remote, nil, nil)

	entry, err := explorer.GetDetails(context.Background(), "sensor.a", at)
	require.NoError(t, err)
	assert.Equal(t, "near", *entry.State)
	require.Len(t, remote.calls, 1)
	assert.True(t, remote.calls[0].start.Equal(at.Add(-5*time.Minute)))
	assert.True(t, remote.calls[0].end.Equal(at.Add(5*time.Minute)))

	_, err = explorer.GetDetails(context.Background(), "sensor.none", at)
	assert.True(t, errors.Is(err, domain.ErrNoData))
}

func TestExportAttributeOmitsNulls(t *testing.T) {
	remote := &fakeRemote{history: map[string][]domain.HistoryEntry{
		"climate.a": {
			{LastChanged: "T1", Attributes: map[string]any{"temperature": 20.0}},
			{LastChanged: "T2", Attributes: map[string]any{}},
			{LastChanged: "T3", Attributes: map[string]any{"temperature": 21.0}},
		},
	}}
	explorer := newExplorerFixture(remote, nil, nil)
	w := domain.HistoryWindow{EntityID: "climate.a", Start: time.Now().Add(-time.Hour), End: time.Now()}

	points, err := explorer.ExportAttribute(context.Background(), w, "temperature")
	require.NoError(t, err)
	assert.Equal(t, []domain.AttributePoint{{Timestamp: "T1", Value: 20.0}, {Timestamp: "T3", Value: 21.0}}, points)

	rows, err := explorer.ExportHistory(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "T2", rows[1].Timestamp)

	_, err = explorer.ExportAttribute(context.Background(), w, " ")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestPublicConfigHidesToken(t *testing.T) {
	explorer := newExplorerFixture(&fakeRemote{}, nil, nil)
	assert.Equal(t, PublicConfig{Language: "en", DefaultHistoryDays: 4, HAURL: "http://ha:8123"}, explorer.PublicConfig())
}
