package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	rpcadapter "github.com/KipK/ha-entity-explorer/internal/adapters/rpcjson"
	"github.com/KipK/ha-entity-explorer/internal/domain"
)

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func printList(header string, items []string) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item})
	}
	printTable([]string{header}, rows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case *float64:
		if x == nil {
			return "-"
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func printEntities(items []domain.EntitySummary) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.EntityID, item.FriendlyName, item.Domain, item.State})
	}
	printTable([]string{"ENTITY_ID", "NAME", "DOMAIN", "STATE"}, rows)
}

func printHistory(h historyPayload) {
	if h.Error != "" {
		fmt.Println(h.Error)
		return
	}
	if h.Metadata != nil {
		printKV([][2]string{
			{"entity_id", h.Metadata.EntityID},
			{"window", h.Metadata.Start + " .. " + h.Metadata.End},
			{"points", strconv.Itoa(h.Metadata.Count)},
			{"type", h.Type},
		})
		fmt.Println()
	}

	rows := make([][]string, 0, len(h.Timestamps))
	switch {
	case h.Type == string(domain.KindClimate):
		for i, ts := range h.Timestamps {
			rows = append(rows, []string{
				ts,
				formatValue(at(h.CurrentTemperature, i)),
				formatValue(at(h.Temperature, i)),
				formatValue(at(h.ExtCurrentTemperature, i)),
				formatValue(at(h.IsHeating, i)),
			})
		}
		printTable([]string{"TIMESTAMP", "CURRENT", "TARGET", "EXTERNAL", "HEATING"}, rows)
	case h.Key != "":
		for i, ts := range h.Timestamps {
			rows = append(rows, []string{ts, formatValue(at(h.Values, i))})
		}
		printTable([]string{"TIMESTAMP", strings.ToUpper(h.Key)}, rows)
	default:
		for i, ts := range h.Timestamps {
			rows = append(rows, []string{ts, formatValue(at(h.States, i))})
		}
		printTable([]string{"TIMESTAMP", "STATE"}, rows)
	}
}

func at[T any](items []T, i int) any {
	if i >= len(items) {
		return nil
	}
	return items[i]
}

func printRange(r domain.AvailableRange) {
	earliest := "unknown"
	if r.Earliest != nil {
		earliest = formatTime(r.Earliest.Local())
	}
	printKV([][2]string{
		{"entity_id", r.EntityID},
		{"earliest", earliest},
		{"latest", formatTime(r.Latest.Local())},
	})
}

func printAttempts(items []rpcadapter.AttemptCount) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.Address, strconv.Itoa(item.Failures)})
	}
	printTable([]string{"ADDRESS", "FAILURES"}, rows)
}

func printUsers(items []domain.User) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Username,
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "USERNAME", "CREATED_AT"}, rows)
}

func printAuditRecords(items []domain.AuditRecord) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Action,
			dash(item.ActorUsername),
			dash(item.RemoteAddr),
			item.Metadata,
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "ACTION", "ACTOR", "REMOTE_ADDR", "METADATA", "AT"}, rows)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
