// Package rpcjson serves a JSON-RPC 2.0 admin interface on a unix socket.
// Access is controlled by the socket file mode.
package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KipK/ha-entity-explorer/internal/application"
	"github.com/sirupsen/logrus"
)

type Server struct {
	explorer *application.Explorer
	auth     *application.AuthService
	log      logrus.FieldLogger
	listener net.Listener
	path     string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type AttemptCount struct {
	Address  string `json:"address"`
	Failures int    `json:"failures"`
}

func Start(path string, explorer *application.Explorer, auth *application.AuthService, log logrus.FieldLogger) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	s := &Server{explorer: explorer, auth: auth, log: log.WithField("component", "rpc"), listener: ln, path: path}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32600, Message: "invalid request"}, ID: req.ID}
	}
	s.log.WithField("method", req.Method).Debug("rpc call")

	switch req.Method {
	case "bans.list":
		bans, err := s.auth.Guard().ListBans(ctx)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"bans": bans}, ID: req.ID}
	case "bans.clear":
		var p struct {
			Addresses []string `json:"addresses"`
		}
		if len(req.Params) > 0 && !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		removed, err := s.auth.Guard().ClearBans(ctx, p.Addresses...)
		if err != nil {
			return internalError(req.ID, err)
		}
		if len(removed) > 0 {
			s.auth.WriteAudit(ctx, nil, "admin.bans.clear", "", strings.Join(removed, ","))
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"removed": removed}, ID: req.ID}
	case "guard.attempts":
		counts := s.auth.Guard().Attempts()
		out := make([]AttemptCount, 0, len(counts))
		for addr, n := range counts {
			out = append(out, AttemptCount{Address: addr, Failures: n})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "cache.refresh":
		n, err := s.explorer.RefreshStates(ctx)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"states": n}, ID: req.ID}
	case "entities.list":
		var p struct {
			Q string `json:"q"`
		}
		if len(req.Params) > 0 && !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		items, err := s.explorer.ListEntities(ctx)
		if err != nil {
			return appError(req.ID, err)
		}
		if q := strings.ToLower(strings.TrimSpace(p.Q)); q != "" {
			filtered := items[:0]
			for _, item := range items {
				if strings.Contains(strings.ToLower(item.EntityID), q) || strings.Contains(strings.ToLower(item.FriendlyName), q) {
					filtered = append(filtered, item)
				}
			}
			items = filtered
		}
		return response{JSONRPC: "2.0", Result: items, ID: req.ID}
	case "audit.list":
		var p struct {
			Limit int `json:"limit"`
		}
		if len(req.Params) > 0 && !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		logs, err := s.auth.ListAuditLogs(ctx, p.Limit)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: logs, ID: req.ID}
	}
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32601, Message: "method not found"}, ID: req.ID}
}

func decodeParams(raw json.RawMessage, out any) bool {
	return json.Unmarshal(raw, out) == nil
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32602, Message: "invalid params"}, ID: id}
}

func appError(id any, err error) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: 40000, Message: err.Error()}, ID: id}
}

func internalError(id any, err error) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: 50000, Message: fmt.Sprintf("internal error: %v", err)}, ID: id}
}
