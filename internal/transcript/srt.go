package transcript

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"relingo/internal/fileutil"
)

var srtTimeRegex = regexp.MustCompile(`(\d{1,2}:\d{2}:\d{2}[,.]\d{1,3})\s*-->\s*(\d{1,2}:\d{2}:\d{2}[,.]\d{1,3})`)

// FormatTimestamp renders d as an SRT timestamp (HH:MM:SS,mmm).
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// ParseTimestamp accepts HH:MM:SS,mmm or HH:MM:SS.mmm.
func ParseTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.Replace(value, ",", ".", 1))
	hms := strings.Split(value, ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	secParts := strings.SplitN(hms[2], ".", 2)
	seconds, errS := strconv.Atoi(secParts[0])
	if errH != nil || errM != nil || errS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	millis := 0
	if len(secParts) == 2 {
		frac := secParts[1]
		for len(frac) < 3 {
			frac += "0"
		}
		var err error
		if millis, err = strconv.Atoi(frac[:3]); err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}

// FormatSRT renders the display text of every segment as SRT cues numbered
// from 1.
func FormatSRT(segments []Segment) string {
	var b strings.Builder
	n := 0
	for _, seg := range segments {
		text := seg.DisplayText()
		if text == "" {
			continue
		}
		if n > 0 {
			b.WriteString("\n")
		}
		n++
		b.WriteString(strconv.Itoa(n))
		b.WriteString("\n")
		b.WriteString(FormatTimestamp(seg.StartTime()))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(seg.EndTime()))
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

// WriteSRT writes the segments to path.
func WriteSRT(path string, segments []Segment) error {
	return fileutil.WriteFileAtomic(path, []byte(FormatSRT(segments)), 0o644)
}

// ParseSRT reads SRT cues into segments. Multi-line cue text is joined with
// a newline; cues without a timing line are skipped.
func ParseSRT(r io.Reader) ([]Segment, error) {
	var (
		segments []Segment
		current  *Segment
		line     int
	)
	flush := func() {
		if current != nil && strings.TrimSpace(current.Text) != "" {
			current.Index = len(segments) + 1
			segments = append(segments, *current)
		}
		current = nil
		line = 0
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if text == "" {
			flush()
			continue
		}
		line++
		if matches := srtTimeRegex.FindStringSubmatch(text); len(matches) == 3 && line <= 2 {
			start, errStart := ParseTimestamp(matches[1])
			end, errEnd := ParseTimestamp(matches[2])
			if errStart != nil || errEnd != nil {
				current = nil
				continue
			}
			current = &Segment{Start: start.Seconds(), End: end.Seconds()}
			continue
		}
		if current == nil {
			continue
		}
		if current.Text != "" {
			current.Text += "\n"
		}
		current.Text += text
	}
	flush()
	return segments, scanner.Err()
}
