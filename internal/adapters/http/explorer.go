package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/application"
	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/go-chi/chi/v5"
)

const noHistoryMessage = "No history data available for this period"

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.explorer.PublicConfig())
}

func (h *Handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	items, err := h.explorer.ListEntities(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	window, err := h.windowFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.explorer.GetHistory(r.Context(), window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Count() == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"error": noHistoryMessage, "timestamps": []string{}, "states": []any{}})
		return
	}

	body, err := withMetadata(res.Series, window, res.Count())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleAttributeHistory(w http.ResponseWriter, r *http.Request) {
	window, err := h.windowFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.explorer.GetAttributeHistory(r.Context(), window, r.URL.Query().Get("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Series.Len() == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"error": noHistoryMessage, "timestamps": []string{}, "values": []any{}})
		return
	}

	body, err := withMetadata(res.Series, window, res.Series.Len())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleHistoryRange(w http.ResponseWriter, r *http.Request) {
	rng, err := h.explorer.GetAvailableRange(r.Context(), chi.URLParam(r, "entity_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rng)
}

func (h *Handler) handleDetails(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("timestamp"))
	if raw == "" {
		h.writeError(w, r, domain.MalformedInput("timestamp is required"))
		return
	}
	at, err := application.ParseTimestamp(raw)
	if err != nil {
		h.writeError(w, r, domain.MalformedInput("invalid timestamp %q", raw))
		return
	}
	entry, err := h.explorer.GetDetails(r.Context(), chi.URLParam(r, "entity_id"), at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ExportedEntry{HistoryEntry: entry, Timestamp: entry.Timestamp()})
}

func (h *Handler) handleExportEntity(w http.ResponseWriter, r *http.Request) {
	window, err := h.windowFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.explorer.ExportHistory(r.Context(), window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeAttachment(w, exportFilename(window, ""), rows)
}

func (h *Handler) handleExportAttribute(w http.ResponseWriter, r *http.Request) {
	window, err := h.windowFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	key := r.URL.Query().Get("key")
	points, err := h.explorer.ExportAttribute(r.Context(), window, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeAttachment(w, exportFilename(window, key), points)
}

func (h *Handler) windowFromRequest(r *http.Request) (domain.HistoryWindow, error) {
	q := r.URL.Query()
	return h.explorer.ResolveWindow(chi.URLParam(r, "entity_id"), q.Get("start"), q.Get("end"))
}

type historyMetadata struct {
	EntityID string `json:"entity_id"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Count    int    `json:"count"`
}

// withMetadata flattens the series fields and adds a metadata object next to
// them.
func withMetadata(series domain.Series, window domain.HistoryWindow, count int) (map[string]any, error) {
	raw, err := json.Marshal(series)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	body["metadata"] = historyMetadata{
		EntityID: window.EntityID,
		Start:    window.Start.Format(time.RFC3339),
		End:      window.End.Format(time.RFC3339),
		Count:    count,
	}
	return body, nil
}

func exportFilename(window domain.HistoryWindow, key string) string {
	const layout = "20060102_1504"
	name := "history_" + window.EntityID
	if key != "" {
		name += "_" + strings.ReplaceAll(key, ".", "_")
	}
	return fmt.Sprintf("%s_%s_%s.json", name, window.Start.Format(layout), window.End.Format(layout))
}

func writeAttachment(w http.ResponseWriter, filename string, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
