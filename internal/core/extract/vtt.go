package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/classmate-app/classmate/internal/models"
)

var timingRe = regexp.MustCompile(
	`^\s*(\d{2}:\d{2}:\d{2}\.\d{3}|\d{1,2}:\d{2}\.\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2}\.\d{3}|\d{1,2}:\d{2}\.\d{3})`)

// ParseWebVTT parses a WebVTT captions file into timed cues. Cue identifiers
// and NOTE/STYLE/REGION blocks are skipped; text lines of one cue are joined
// with spaces. A file that yields no cues is malformed.
func ParseWebVTT(text string) ([]models.TranscriptCue, error) {
	raw := strings.ReplaceAll(text, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	lines := strings.Split(raw, "\n")

	var cues []models.TranscriptCue
	i := 0

	// Skip header.
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i < len(lines) && strings.HasPrefix(strings.ToUpper(strings.TrimSpace(lines[i])), "WEBVTT") {
		i++
	}

	skipBlock := func() {
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			i++
		}
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
	}

	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			continue
		}

		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "NOTE") || strings.HasPrefix(upper, "STYLE") || strings.HasPrefix(upper, "REGION") {
			i++
			skipBlock()
			continue
		}

		// An identifier line may precede the timing line.
		if i+1 < len(lines) && timingRe.MatchString(strings.TrimSpace(lines[i+1])) {
			i++
			line = strings.TrimSpace(lines[i])
		}

		m := timingRe.FindStringSubmatch(line)
		if m == nil {
			i++
			continue
		}

		start, err := parseTimestamp(m[1])
		if err != nil {
			return nil, err
		}
		end, err := parseTimestamp(m[2])
		if err != nil {
			return nil, err
		}
		i++

		var textLines []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			textLines = append(textLines, strings.TrimSpace(lines[i]))
			i++
		}
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}

		cueText := strings.TrimSpace(strings.Join(textLines, " "))
		if cueText != "" {
			cues = append(cues, models.TranscriptCue{StartSec: start, EndSec: end, Text: cueText})
		}
	}

	if len(cues) == 0 {
		return nil, fmt.Errorf("webvtt: no cues found")
	}

	sortCues(cues)
	return cues, nil
}

// parseTimestamp accepts HH:MM:SS.mmm or MM:SS.mmm.
func parseTimestamp(ts string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")

	var hh, mm int
	var rest string
	switch len(parts) {
	case 3:
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("webvtt: invalid timestamp %q", ts)
		}
		hh = h
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("webvtt: invalid timestamp %q", ts)
		}
		mm = m
		rest = parts[2]
	case 2:
		m, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("webvtt: invalid timestamp %q", ts)
		}
		mm = m
		rest = parts[1]
	default:
		return 0, fmt.Errorf("webvtt: invalid timestamp %q", ts)
	}

	secParts := strings.Split(rest, ".")
	if len(secParts) != 2 {
		return 0, fmt.Errorf("webvtt: invalid timestamp %q", ts)
	}
	ss, err := strconv.Atoi(secParts[0])
	if err != nil {
		return 0, fmt.Errorf("webvtt: invalid timestamp %q", ts)
	}
	ms, err := strconv.Atoi(secParts[1])
	if err != nil {
		return 0, fmt.Errorf("webvtt: invalid timestamp %q", ts)
	}

	return float64(hh)*3600 + float64(mm)*60 + float64(ss) + float64(ms)/1000, nil
}
