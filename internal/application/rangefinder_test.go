package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
)

func TestFindEarliestAllProbesEmpty(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeRemote{history: map[string][]domain.HistoryEntry{}}
	finder := NewRangeFinder(remote, nil)
	finder.Now = func() time.Time { return now }

	earliest, latest, err := finder.FindEarliest(context.Background(), "sensor.x")
	if err != nil {
		t.Fatalf("find earliest: %v", err)
	}
	if earliest != nil {
		t.Fatalf("expected no earliest, got %v", earliest)
	}
	if !latest.Equal(now) {
		t.Fatalf("expected latest %v, got %v", now, latest)
	}

	wantDays := []int{30, 14, 7, 3, 1}
	if len(remote.calls) != len(wantDays) {
		t.Fatalf("expected %d probes, got %d", len(wantDays), len(remote.calls))
	}
	for i, call := range remote.calls {
		wantStart := now.Add(-time.Duration(wantDays[i]) * 24 * time.Hour)
		if !call.start.Equal(wantStart) || call.end.Sub(call.start) != time.Hour || !call.minimal {
			t.Fatalf("probe %d: unexpected call %+v", i, call)
		}
	}
}

func TestFindEarliestStopsAtFirstNonEmptyProbe(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeRemote{respond: func(call historyCall) []domain.HistoryEntry {
		if now.Sub(call.start) == 7*24*time.Hour {
			return []domain.HistoryEntry{{LastChanged: "2024-05-25T12:10:00+00:00"}, {LastChanged: "2024-05-25T12:20:00+00:00"}}
		}
		return nil
	}}
	finder := NewRangeFinder(remote, nil)
	finder.Now = func() time.Time { return now }

	earliest, _, err := finder.FindEarliest(context.Background(), "sensor.x")
	if err != nil {
		t.Fatalf("find earliest: %v", err)
	}
	want := time.Date(2024, 5, 25, 12, 10, 0, 0, time.UTC)
	if earliest == nil || !earliest.Equal(want) {
		t.Fatalf("expected %v, got %v", want, earliest)
	}
	if len(remote.calls) != 3 {
		t.Fatalf("expected 3 probes, got %d", len(remote.calls))
	}
}

func TestFindEarliestPropagatesRemoteErrors(t *testing.T) {
	remote := &fakeRemote{err: domain.ErrRemoteAuth}
	finder := NewRangeFinder(remote, nil)

	if _, _, err := finder.FindEarliest(context.Background(), "sensor.x"); !errors.Is(err, domain.ErrRemoteAuth) {
		t.Fatalf("expected remote auth error, got %v", err)
	}
	if len(remote.calls) != 1 {
		t.Fatalf("expected the search to stop after the failure, got %d calls", len(remote.calls))
	}
}
