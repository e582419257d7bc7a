package rpcjson

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/adapters/banstore"
	"github.com/KipK/ha-entity-explorer/internal/adapters/db/sqlite"
	"github.com/KipK/ha-entity-explorer/internal/application"
	"github.com/KipK/ha-entity-explorer/internal/domain"
)

type staticRemote struct {
	states []domain.StateEntry
}

func (r *staticRemote) States(context.Context) ([]domain.StateEntry, error) {
	return r.states, nil
}

func (r *staticRemote) History(context.Context, string, time.Time, time.Time, bool) ([]domain.HistoryEntry, error) {
	return []domain.HistoryEntry{}, nil
}

func newTestServer(t *testing.T) (*Server, *application.AuthService) {
	t.Helper()
	dir, err := os.MkdirTemp("", "hae-rpc")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	db, err := sqlite.Open(filepath.Join(dir, "rpc.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := sqlite.RunMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	remote := &staticRemote{states: []domain.StateEntry{
		{EntityID: "sensor.kitchen", State: "20", Attributes: map[string]any{"friendly_name": "Kitchen"}},
		{EntityID: "sensor.garage", State: "12", Attributes: map[string]any{"friendly_name": "Garage"}},
		{EntityID: "lock.door", State: "locked"},
	}}
	guard := application.NewLoginGuard(banstore.NewFileStore(filepath.Join(dir, "ip_bans.yaml")), nil, nil)
	auth := application.NewAuthService(sqlite.NewAuthRepository(db), guard, nil)
	explorer := application.NewExplorer(
		domain.NewAccessPolicy([]string{"sensor.*"}, nil),
		application.NewStateCache(remote),
		remote,
		application.NewRangeFinder(remote, nil),
		application.ExplorerConfig{},
		nil,
	)

	srv, err := Start(filepath.Join(dir, "admin.sock"), explorer, auth, nil)
	if err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, auth
}

func call(t *testing.T, srv *Server, method string, params any) response {
	t.Helper()
	req := request{JSONRPC: "2.0", Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = raw
	}
	return srv.dispatch(context.Background(), req)
}

func TestBansListAndClear(t *testing.T) {
	srv, auth := newTestServer(t)
	ctx := context.Background()
	for _, addr := range []string{"192.0.2.1", "192.0.2.2"} {
		for i := 0; i < application.MaxLoginAttempts; i++ {
			if _, err := auth.Guard().RecordFailure(ctx, addr); err != nil {
				t.Fatalf("record failure: %v", err)
			}
		}
	}

	resp := call(t, srv, "bans.list", nil)
	if resp.Error != nil {
		t.Fatalf("bans.list: %+v", resp.Error)
	}
	bans := resp.Result.(map[string]any)["bans"].([]string)
	if len(bans) != 2 || bans[0] != "192.0.2.1" {
		t.Fatalf("unexpected bans %v", bans)
	}

	resp = call(t, srv, "bans.clear", map[string]any{"addresses": []string{"192.0.2.1"}})
	if resp.Error != nil {
		t.Fatalf("bans.clear: %+v", resp.Error)
	}
	removed := resp.Result.(map[string]any)["removed"].([]string)
	if len(removed) != 1 || removed[0] != "192.0.2.1" {
		t.Fatalf("unexpected removed %v", removed)
	}

	left, _ := auth.Guard().ListBans(ctx)
	if len(left) != 1 || left[0] != "192.0.2.2" {
		t.Fatalf("unexpected remaining bans %v", left)
	}

	logs, err := auth.ListAuditLogs(ctx, 10)
	if err != nil || len(logs) == 0 || logs[0].Action != "admin.bans.clear" {
		t.Fatalf("expected clear to be audited, got %+v (%v)", logs, err)
	}
}

func TestGuardAttempts(t *testing.T) {
	srv, auth := newTestServer(t)
	_, _ = auth.Guard().RecordFailure(context.Background(), "198.51.100.9")

	resp := call(t, srv, "guard.attempts", nil)
	out, ok := resp.Result.([]AttemptCount)
	if !ok || len(out) != 1 || out[0].Address != "198.51.100.9" || out[0].Failures != 1 {
		t.Fatalf("unexpected attempts %+v", resp.Result)
	}
}

func TestEntitiesListAppliesPolicyAndQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := call(t, srv, "entities.list", nil)
	items := resp.Result.([]domain.EntitySummary)
	if len(items) != 2 {
		t.Fatalf("expected lock.door to be filtered, got %+v", items)
	}

	resp = call(t, srv, "entities.list", map[string]any{"q": "kit"})
	items = resp.Result.([]domain.EntitySummary)
	if len(items) != 1 || items[0].EntityID != "sensor.kitchen" {
		t.Fatalf("unexpected filtered items %+v", items)
	}

	resp = call(t, srv, "cache.refresh", nil)
	if resp.Error != nil || resp.Result.(map[string]any)["states"] != 3 {
		t.Fatalf("unexpected refresh %+v", resp)
	}
}

func TestUnknownMethodAndInvalidRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := call(t, srv, "graph.trace", nil)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method not found, got %+v", resp)
	}
	resp = srv.dispatch(context.Background(), request{Method: "bans.list"})
	if resp.Error == nil || resp.Error.Code != -32600 {
		t.Fatalf("expected invalid request, got %+v", resp)
	}
}

func TestSocketRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	conn, err := net.Dial("unix", srv.path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := json.NewEncoder(conn).Encode(map[string]any{"jsonrpc": "2.0", "method": "bans.list", "id": 7}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp struct {
		Result struct {
			Bans []string `json:"bans"`
		} `json:"result"`
		ID int `json:"id"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.ID != 7 || resp.Result.Bans == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}
