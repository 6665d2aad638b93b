package youtube

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// timedText is the json3 body served by /api/timedtext.
type timedText struct {
	Events []struct {
		TStartMs    float64 `json:"tStartMs"`
		DDurationMs float64 `json:"dDurationMs"`
		Segs        []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// VideoID returns the v query parameter of a watch or timedtext URL.
func VideoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

// FormatTimedText renders caption events as "HH:MM:SS: text" lines. Events
// that start within the same second are merged onto one line.
func FormatTimedText(body []byte) (string, error) {
	var tt timedText
	if err := json.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("youtube: timedtext: %w", err)
	}

	var (
		lines []string
		last  string
	)
	for i, ev := range tt.Events {
		start := clock(int64(ev.TStartMs))

		parts := make([]string, 0, len(ev.Segs))
		for _, seg := range ev.Segs {
			parts = append(parts, seg.UTF8)
		}
		text := strings.ReplaceAll(strings.Join(parts, " "), "\n", " ")

		if i > 0 && start == last {
			lines[len(lines)-1] += " " + text
		} else {
			lines = append(lines, start+": "+text)
		}
		last = start
	}
	return strings.Join(lines, "\n"), nil
}

func clock(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("15:04:05")
}
