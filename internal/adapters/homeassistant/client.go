// Package homeassistant talks to the Home Assistant REST API.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/sirupsen/logrus"
)

// RequestTimeout bounds every call to the remote platform.
const RequestTimeout = 30 * time.Second

var (
	ErrAuthentication     = errors.New("authentication failed, check the api token")
	ErrNotFound           = errors.New("endpoint or entity not found")
	ErrConnection         = errors.New("cannot connect to home assistant")
	ErrTimeout            = errors.New("request to home assistant timed out")
	ErrUnexpectedResponse = errors.New("unexpected response from home assistant")
)

// RemoteError carries the failing endpoint and status next to one of the
// sentinel errors above.
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
	Detail     string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is maps transport failures onto the service-level error categories.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case domain.ErrRemoteAuth:
		return errors.Is(e.Err, ErrAuthentication)
	case domain.ErrNoData:
		return errors.Is(e.Err, ErrNotFound)
	case domain.ErrRemoteUnavailable:
		if errors.Is(e.Err, ErrConnection) || errors.Is(e.Err, ErrTimeout) {
			return true
		}
		return e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// Observer receives one callback per remote round trip.
type Observer interface {
	ObserveRemoteCall(op string, elapsed time.Duration, err error)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        logrus.FieldLogger
	obs        Observer
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithObserver(obs Observer) Option {
	return func(c *Client) { c.obs = obs }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: RequestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks that the API answers and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.get(ctx, "ping", "/api/", nil, &out); err != nil {
		return err
	}
	if out.Message != "API running." {
		return &RemoteError{Op: "ping", Err: ErrUnexpectedResponse, Detail: out.Message}
	}
	return nil
}

func (c *Client) States(ctx context.Context) ([]domain.StateEntry, error) {
	var out []domain.StateEntry
	if err := c.get(ctx, "states", "/api/states", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// State returns nil without error when the entity does not exist.
func (c *Client) State(ctx context.Context, entityID string) (*domain.StateEntry, error) {
	var out domain.StateEntry
	err := c.get(ctx, "state", "/api/states/"+url.PathEscape(entityID), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches the history of a single entity in [start, end]. The
// remote answers with one list per requested entity; only the first is used.
func (c *Client) History(ctx context.Context, entityID string, start, end time.Time, minimal bool) ([]domain.HistoryEntry, error) {
	if end.IsZero() {
		end = time.Now()
	}
	params := url.Values{}
	params.Set("filter_entity_id", entityID)
	params.Set("end_time", end.Format(time.RFC3339))
	params.Set("minimal_response", fmt.Sprintf("%t", minimal))
	params.Set("significant_changes_only", "false")

	var raw json.RawMessage
	if err := c.get(ctx, "history", "/api/history/period/"+start.Format(time.RFC3339), params, &raw); err != nil {
		return nil, err
	}

	var lists [][]domain.HistoryEntry
	if err := json.Unmarshal(raw, &lists); err != nil {
		c.log.WithField("entity_id", entityID).WithError(err).Warn("history response is not a list of lists")
		return []domain.HistoryEntry{}, nil
	}
	if len(lists) == 0 || lists[0] == nil {
		return []domain.HistoryEntry{}, nil
	}
	return lists[0], nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) (err error) {
	started := time.Now()
	defer func() {
		if c.obs != nil {
			c.obs.ObserveRemoteCall(op, time.Since(started), err)
		}
	}()

	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &RemoteError{Op: op, Err: ErrUnexpectedResponse, Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	c.log.WithFields(logrus.Fields{"op": op, "path": path}).Debug("remote request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(op, c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: ErrAuthentication}
	case resp.StatusCode == http.StatusNotFound:
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: ErrNotFound, Detail: path}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: ErrUnexpectedResponse, Detail: strings.TrimSpace(string(payload))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return &RemoteError{Op: op, Err: ErrTimeout}
		}
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: ErrUnexpectedResponse, Detail: err.Error()}
	}
	return nil
}

func classifyTransportError(op, baseURL string, err error) error {
	if isTimeout(err) {
		return &RemoteError{Op: op, Err: ErrTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return &RemoteError{Op: op, Err: ErrConnection, Detail: err.Error()}
	}
	var netErr net.Error
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.As(err, &netErr) {
		return &RemoteError{Op: op, Err: ErrConnection, Detail: baseURL}
	}
	return &RemoteError{Op: op, Err: ErrUnexpectedResponse, Detail: err.Error()}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
