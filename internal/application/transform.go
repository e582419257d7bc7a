package application

import (
	"math"
	"strconv"
	"strings"

	"github.com/KipK/ha-entity-explorer/internal/domain"
)

// TransformHistory picks the climate layout for climate entities and the
// generic whole-state layout for everything else.
func TransformHistory(entityID string, entries []domain.HistoryEntry) domain.Series {
	if domain.DomainOf(entityID) == "climate" {
		return TransformClimate(entries)
	}
	return TransformGeneric(domain.DomainOf(entityID), entries)
}

// TransformClimate reads the temperatures from the attributes. Numeric strings
// are coerced; any other value becomes a null point.
func TransformClimate(entries []domain.HistoryEntry) *domain.ClimateSeries {
	out := &domain.ClimateSeries{
		Timestamps:            []string{},
		CurrentTemperature:    []*float64{},
		Temperature:           []*float64{},
		ExtCurrentTemperature: []*float64{},
		IsHeating:             []int{},
	}
	for _, entry := range entries {
		ts := entry.Timestamp()
		if ts == "" {
			continue
		}
		attrs := entry.Attributes

		ext := attrs["ext_current_temperature"]
		if specific, ok := attrs["specific_states"].(map[string]any); ok {
			if v, ok := specific["ext_current_temperature"]; ok && v != nil {
				ext = v
			}
		}

		action, _ := attrs["hvac_action"].(string)
		if action == "" {
			action = "idle"
		}
		heating := 0
		if action == "heating" {
			heating = 1
		}

		out.Timestamps = append(out.Timestamps, ts)
		out.CurrentTemperature = append(out.CurrentTemperature, toFloat(attrs["current_temperature"]))
		out.Temperature = append(out.Temperature, toFloat(attrs["temperature"]))
		out.ExtCurrentTemperature = append(out.ExtCurrentTemperature, toFloat(ext))
		out.IsHeating = append(out.IsHeating, heating)
	}
	return out
}

// TransformGeneric classifies the series by the first state that can be
// typed: numeric when it parses as a number, text otherwise. A series with no
// typed state at all is text.
func TransformGeneric(entityDomain string, entries []domain.HistoryEntry) domain.Series {
	timestamps := []string{}
	states := []*string{}
	var kind domain.SeriesKind

	for _, entry := range entries {
		ts := entry.Timestamp()
		if ts == "" {
			continue
		}
		state := normalizeState(entry.State)
		if kind == "" && state != nil {
			if parseNumber(*state) != nil {
				kind = domain.KindNumeric
			} else {
				kind = domain.KindText
			}
		}
		timestamps = append(timestamps, ts)
		states = append(states, state)
	}

	if kind != domain.KindNumeric {
		return &domain.TextSeries{Domain: entityDomain, Timestamps: timestamps, States: states}
	}
	values := make([]*float64, len(states))
	for i, state := range states {
		if state == nil {
			continue
		}
		values[i] = parseNumber(*state)
	}
	return &domain.NumericSeries{Domain: entityDomain, Timestamps: timestamps, States: values}
}

// TransformAttribute follows a dot-separated path through each entry's
// attributes. Values are kept as found; a missing key or a non-object along
// the path yields nil. The first non-nil value decides the kind: numbers and
// booleans are numeric. A series with no value at all is numeric.
func TransformAttribute(keyPath string, entries []domain.HistoryEntry) *domain.AttributeSeries {
	out := &domain.AttributeSeries{
		Key:        keyPath,
		Timestamps: []string{},
		Values:     []any{},
	}
	path := strings.Split(keyPath, ".")
	for _, entry := range entries {
		ts := entry.Timestamp()
		if ts == "" {
			continue
		}
		value := LookupPath(entry.Attributes, path)
		if out.ValueKind == "" && value != nil {
			if isNumeric(value) {
				out.ValueKind = domain.KindNumeric
			} else {
				out.ValueKind = domain.KindText
			}
		}
		out.Timestamps = append(out.Timestamps, ts)
		out.Values = append(out.Values, value)
	}
	if out.ValueKind == "" {
		out.ValueKind = domain.KindNumeric
	}
	return out
}

func LookupPath(attrs map[string]any, path []string) any {
	var current any = attrs
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[key]
		if !ok {
			return nil
		}
	}
	return current
}

func normalizeState(state *string) *string {
	if state == nil {
		return nil
	}
	switch *state {
	case "unknown", "unavailable":
		return nil
	}
	s := *state
	return &s
}

// toFloat accepts JSON numbers and numeric strings. Anything else, including
// NaN and the infinities, is nil.
func toFloat(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		return parseNumber(n)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// parseNumber rejects "nan" and "inf", which strconv accepts but JSON cannot
// carry.
func parseNumber(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func isNumeric(v any) bool {
	switch v.(type) {
	case bool:
		return true
	case string:
		return false
	}
	return toFloat(v) != nil
}
