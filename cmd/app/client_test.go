package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsAndPersistsToken(t *testing.T) {
	t.Setenv(cliStateEnv, filepath.Join(t.TempDir(), "state", "cli.json"))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, cliConfig{Transport: "http", Server: defaultServer, Socket: defaultSocket}, cfg)

	require.NoError(t, saveConfig(cliConfig{Server: "http://explorer:5000", Token: "tok"}))
	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://explorer:5000", cfg.Server)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, defaultSocket, cfg.Socket)
}

func TestRequestReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/entities":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL+"/", "")
	err := client.request(context.Background(), http.MethodGet, "/api/entities", nil, nil)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Message)
	assert.Contains(t, err.Error(), "auth login")

	err = client.request(context.Background(), http.MethodGet, "/api/other", nil, nil)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestHistoryUsesAttributeRouteWithKey(t *testing.T) {
	var gotPath, gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"type":"numeric","key":"specific_states.window","timestamps":[],"values":[]}`))
	}))
	defer srv.Close()

	cfg := cliConfig{Server: srv.URL, Token: "tok"}
	var out historyPayload
	require.NoError(t, doHistory(context.Background(), cfg, "climate.living", "specific_states.window", "", "", &out))
	assert.Equal(t, "/api/attribute-history/climate.living", gotPath)
	assert.Equal(t, "specific_states.window", gotKey)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "specific_states.window", out.Key)
}

func TestFilterEntitiesMatchesIDAndName(t *testing.T) {
	items := []domain.EntitySummary{
		{EntityID: "sensor.temp", FriendlyName: "Outdoor"},
		{EntityID: "climate.living", FriendlyName: "Living Room"},
	}
	assert.Equal(t, items[1:], filterEntities(items, " living "))
	assert.Equal(t, items[:1], filterEntities(items, "OUTDOOR"))
	assert.Equal(t, items, filterEntities(items, ""))
}
