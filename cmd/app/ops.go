package main

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/KipK/ha-entity-explorer/internal/domain"
)

type loginResult struct {
	Auth     string `json:"auth"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// historyPayload covers both the state and the attribute history responses.
type historyPayload struct {
	Error                 string     `json:"error,omitempty"`
	Type                  string     `json:"type"`
	Key                   string     `json:"key,omitempty"`
	Timestamps            []string   `json:"timestamps"`
	States                []any      `json:"states,omitempty"`
	Values                []any      `json:"values,omitempty"`
	CurrentTemperature    []*float64 `json:"current_temperature,omitempty"`
	Temperature           []*float64 `json:"temperature,omitempty"`
	ExtCurrentTemperature []*float64 `json:"ext_current_temperature,omitempty"`
	IsHeating             []int      `json:"is_heating,omitempty"`
	Metadata              *struct {
		EntityID string `json:"entity_id"`
		Start    string `json:"start"`
		End      string `json:"end"`
		Count    int    `json:"count"`
	} `json:"metadata,omitempty"`
}

func doLogin(ctx context.Context, cfg cliConfig, username, password string, out any) error {
	client := newAPIClient(cfg.Server, "")
	return client.request(ctx, http.MethodPost, "/api/auth/login", map[string]any{
		"username": username,
		"password": password,
	}, out)
}

func doWhoAmI(ctx context.Context, cfg cliConfig, out any) error {
	client := cfg.api()
	return client.request(ctx, http.MethodGet, "/api/auth/whoami", nil, out)
}

func doLogout(ctx context.Context, cfg cliConfig) error {
	if cfg.Token == "" {
		return nil
	}
	client := cfg.api()
	return client.request(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func doEntitiesList(ctx context.Context, cfg cliConfig, q string, out *[]domain.EntitySummary) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "entities.list", map[string]any{"q": q}, out)
	}
	client := cfg.api()
	if err := client.request(ctx, http.MethodGet, "/api/entities", nil, out); err != nil {
		return err
	}
	*out = filterEntities(*out, q)
	return nil
}

func filterEntities(items []domain.EntitySummary, q string) []domain.EntitySummary {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return items
	}
	out := make([]domain.EntitySummary, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.EntityID), q) || strings.Contains(strings.ToLower(item.FriendlyName), q) {
			out = append(out, item)
		}
	}
	return out
}

func doHistory(ctx context.Context, cfg cliConfig, entityID, key, start, end string, out any) error {
	client := cfg.api()
	params := url.Values{}
	if start != "" {
		params.Set("start", start)
	}
	if end != "" {
		params.Set("end", end)
	}
	path := "/api/history/" + url.PathEscape(entityID)
	if key != "" {
		params.Set("key", key)
		path = "/api/attribute-history/" + url.PathEscape(entityID)
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return client.request(ctx, http.MethodGet, path, nil, out)
}

func doRange(ctx context.Context, cfg cliConfig, entityID string, out any) error {
	client := cfg.api()
	return client.request(ctx, http.MethodGet, "/api/history-range/"+url.PathEscape(entityID), nil, out)
}
