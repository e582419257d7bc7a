package application

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ParseTimestamp accepts RFC 3339 and the looser ISO forms browsers send
// (trailing Z, missing seconds, no offset). Values without an offset are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return dateparse.ParseIn(value, time.UTC)
}
