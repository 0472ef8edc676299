package deployment

import (
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02Z07:00",
}

// ParseTimestamp parses the ISO-ish timestamps sent by the backend. Values without
// an explicit zone are read as UTC. The result is always in UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if strings.HasSuffix(s, "z") {
		s = strings.TrimSuffix(s, "z") + "Z"
	}
	if !hasZone(s) {
		s += "Z"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

func hasZone(s string) bool {
	if strings.HasSuffix(s, "Z") {
		return true
	}
	sep := strings.LastIndexAny(s, "T ")
	if sep < 0 {
		return false
	}
	return strings.ContainsAny(s[sep+1:], "+-")
}

// FormatTimestamp renders t in UTC for display; nil renders as "-".
func FormatTimestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
