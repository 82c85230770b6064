package transcript

import (
	"math"
	"unicode"
	"unicode/utf8"
)

// ReadingSpeed is the characters-per-second limit applied to translated
// lines. A zero CPS disables it.
type ReadingSpeed struct {
	CPS           float64
	ExcludeSpaces bool
	// MaxShift bounds how far, in seconds, a cue edge may move into the
	// neighbouring gap.
	MaxShift float64
	// MinGap is the silence, in seconds, kept between consecutive cues.
	MinGap float64
}

// Enabled reports whether a limit is configured.
func (r ReadingSpeed) Enabled() bool {
	return r.CPS > 0
}

// VisibleLen counts the characters a viewer has to read.
func (r ReadingSpeed) VisibleLen(text string) int {
	if !r.ExcludeSpaces {
		return utf8.RuneCountInString(text)
	}
	n := 0
	for _, ch := range text {
		if !unicode.IsSpace(ch) {
			n++
		}
	}
	return n
}

// MaxChars returns how many characters fit the segment at the configured
// speed. Segments shorter than 100ms count as 100ms. It returns 0 when the
// limit is disabled.
func (r ReadingSpeed) MaxChars(seg Segment) int {
	if !r.Enabled() {
		return 0
	}
	// The epsilon keeps millisecond timings like 1.6-3.4 from losing a
	// character to float rounding.
	return int(math.Floor(max(0.1, seg.End-seg.Start)*r.CPS + 1e-9))
}

// Overflows reports whether the segment's display text is too long for its
// duration.
func (r ReadingSpeed) Overflows(seg Segment) bool {
	return r.Enabled() && r.VisibleLen(seg.DisplayText()) > r.MaxChars(seg)
}

// Stretch widens segments[i] into the gaps around it so its display text can
// be read at the configured speed. Time is taken from the gap before and the
// gap after, at most MaxShift from each, always leaving MinGap to the
// neighbours. It reports whether the segment moved.
func (r ReadingSpeed) Stretch(segments []Segment, i int) bool {
	if !r.Enabled() || i < 0 || i >= len(segments) {
		return false
	}
	cur := &segments[i]
	length := r.VisibleLen(cur.DisplayText())
	if length == 0 {
		return false
	}
	deficit := float64(length)/r.CPS - max(0.01, cur.End-cur.Start)
	if deficit <= 1e-6 {
		return false
	}

	var roomBefore, roomAfter float64
	if i > 0 {
		roomBefore = max(0, cur.Start-segments[i-1].End-r.MinGap)
	}
	if i < len(segments)-1 {
		roomAfter = max(0, segments[i+1].Start-cur.End-r.MinGap)
	}
	roomBefore = min(roomBefore, r.MaxShift)
	roomAfter = min(roomAfter, r.MaxShift)

	before := min(roomBefore, deficit/2)
	after := min(roomAfter, deficit-before)
	// A short gap after leaves the rest of the deficit to the gap before.
	before += min(roomBefore-before, deficit-before-after)
	if before+after <= 1e-6 {
		return false
	}
	cur.Start = roundMillis(max(0, cur.Start-before))
	cur.End = roundMillis(cur.End + after)
	return true
}

func roundMillis(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}
