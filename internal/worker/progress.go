package worker

import (
	"regexp"
	"strconv"
	"strings"
)

// ProgressUpdate is one parsed progress event from a worker's output stream.
type ProgressUpdate struct {
	// Progress is the computed percentage, valid only when HasProgress.
	Progress int
	// HasProgress is true when the line carried a current/total ratio.
	HasProgress bool
	// Message is the human-readable part of the line.
	Message string
}

// Workers interleave progress with free-form log text. Two shapes carry
// progress: "[Stage] <event>" marker lines and "<current>/<total>" ratios
// embedded anywhere in a line.
var (
	stageLinePattern = regexp.MustCompile(`^\[([A-Za-z_ ]+)\]\s*(.*)$`)
	ratioPattern     = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
)

// ParseProgressLine scans one output line for a progress event. Returns
// false when the line is plain log text.
func ParseProgressLine(line string) (ProgressUpdate, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ProgressUpdate{}, false
	}

	if m := stageLinePattern.FindStringSubmatch(line); m != nil {
		update := ProgressUpdate{Message: strings.TrimSpace(m[2])}
		if update.Message == "" {
			update.Message = m[1]
		}
		// A stage marker line may itself carry a ratio.
		if r := ratioPattern.FindStringSubmatch(m[2]); r != nil {
			if progress, ok := ratioToPercent(r[1], r[2]); ok {
				update.Progress = progress
				update.HasProgress = true
			}
		}
		return update, true
	}

	if r := ratioPattern.FindStringSubmatch(line); r != nil {
		if progress, ok := ratioToPercent(r[1], r[2]); ok {
			return ProgressUpdate{Progress: progress, HasProgress: true, Message: line}, true
		}
	}

	return ProgressUpdate{}, false
}

// ratioToPercent computes floor(100*current/total), rejecting zero totals
// and clamping overshoot.
func ratioToPercent(currentStr, totalStr string) (int, bool) {
	current, err := strconv.Atoi(currentStr)
	if err != nil {
		return 0, false
	}
	total, err := strconv.Atoi(totalStr)
	if err != nil || total <= 0 {
		return 0, false
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	return current * 100 / total, true
}
