// Package subtitle parses and formats SRT subtitle files.
package subtitle

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/asticode/go-astisub"
)

// Line is one subtitle cue with times in seconds alongside their
// SRT-formatted (HH:MM:SS,mmm) representation.
type Line struct {
	StartTime          float64 `json:"start_time"`
	EndTime            float64 `json:"end_time"`
	StartTimeFormatted string  `json:"start_time_formatted"`
	EndTimeFormatted   string  `json:"end_time_formatted"`
	Text               string  `json:"text"`
}

// Parse reads an SRT document into lines, preserving cue order.
func Parse(r io.Reader) ([]Line, error) {
	subs, err := astisub.ReadFromSRT(r)
	if err != nil {
		return nil, fmt.Errorf("parsing srt: %w", err)
	}
	if len(subs.Items) == 0 {
		return nil, fmt.Errorf("parsing srt: no cues found")
	}

	lines := make([]Line, 0, len(subs.Items))
	for _, item := range subs.Items {
		var parts []string
		for _, l := range item.Lines {
			parts = append(parts, l.String())
		}
		lines = append(lines, Line{
			StartTime:          item.StartAt.Seconds(),
			EndTime:            item.EndAt.Seconds(),
			StartTimeFormatted: FormatTimestamp(item.StartAt),
			EndTimeFormatted:   FormatTimestamp(item.EndAt),
			Text:               strings.Join(parts, "\n"),
		})
	}
	return lines, nil
}

// ParseBytes parses an SRT document held in memory.
func ParseBytes(data []byte) ([]Line, error) {
	return Parse(strings.NewReader(data2string(data)))
}

// data2string strips a UTF-8 BOM if present; workers and user uploads both
// produce BOM-prefixed files in the wild.
func data2string(data []byte) string {
	s := string(data)
	return strings.TrimPrefix(s, "\ufeff")
}

// FormatTimestamp renders a duration in SRT HH:MM:SS,mmm form.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
