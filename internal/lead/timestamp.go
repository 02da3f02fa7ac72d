package lead

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// dayFirstLayouts are tried before dateparse, which reads slashed dates
// month first.
var dayFirstLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// NormalizeTimestamp renders raw in TimestampLayout at second precision in
// UTC. Empty or unparseable input yields now.
func NormalizeTimestamp(raw string, now time.Time) string {
	fallback := now.UTC().Truncate(time.Second).Format(TimestampLayout)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	for _, layout := range dayFirstLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC().Format(TimestampLayout)
		}
	}

	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return fallback
	}
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}
