package transcript

import (
	"fmt"
	"math"
	"strings"
	"time"

	"relingo/internal/fileutil"
)

// Style controls ASS rendering.
type Style struct {
	FontName     string
	FontSize     int
	Bold         bool
	Italic       bool
	Underline    bool
	FontColor    string
	OutlineColor string
	BackColor    string
	OutlineWidth float64
	BackOpacity  float64
	Alignment    int
	MarginV      int
}

// ColorToASS converts "#RRGGBB", "RRGGBB" or "&H..." to the ASS
// &HAABBGGRR form with the given alpha (0 opaque, 255 transparent).
// Unparseable colours become white.
func ColorToASS(color string, alpha int) string {
	alpha = max(0, min(255, alpha))
	c := strings.TrimSpace(color)
	if strings.HasPrefix(strings.ToUpper(c), "&H") {
		body := strings.ToUpper(c[2:])
		switch len(body) {
		case 6:
			return fmt.Sprintf("&H%02X%s", alpha, body)
		case 8:
			return fmt.Sprintf("&H%02X%s", alpha, body[2:])
		default:
			return fmt.Sprintf("&H%02XFFFFFF", alpha)
		}
	}
	c = strings.TrimPrefix(c, "#")
	if len(c) != 6 || !isHex(c) {
		c = "FFFFFF"
	}
	c = strings.ToUpper(c)
	return fmt.Sprintf("&H%02X%s%s%s", alpha, c[4:6], c[2:4], c[0:2])
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// FormatASSTime renders d as H:MM:SS.cc.
func FormatASSTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := (d.Milliseconds() + 5) / 10
	h := cs / 360_000
	cs %= 360_000
	m := cs / 6000
	cs %= 6000
	s := cs / 100
	cs %= 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// FormatASS renders segments as an ASS script. Each cue is drawn twice: a
// boxed background layer and a stroked text layer on top.
func FormatASS(segments []Segment, style Style, title string) string {
	if strings.TrimSpace(title) == "" {
		title = "Subtitles"
	}
	fontName := style.FontName
	if fontName == "" {
		fontName = "Arial"
	}
	fontSize := style.FontSize
	if fontSize <= 0 {
		fontSize = 36
	}
	alignment := style.Alignment
	if alignment < 1 || alignment > 9 {
		alignment = 2
	}
	backAlpha := int(math.Round(math.Max(0, math.Min(1, style.BackOpacity)) * 255))
	primary := ColorToASS(style.FontColor, 0)
	back := ColorToASS(style.BackColor, backAlpha)
	outline := ColorToASS(style.OutlineColor, 0)
	outlinePx := math.Max(0, math.Min(10, style.OutlineWidth))
	bold, italic, underline := assFlag(style.Bold), assFlag(style.Italic), assFlag(style.Underline)

	var b strings.Builder
	fmt.Fprintf(&b, "[Script Info]\nTitle: %s\nScriptType: v4.00+\nWrapStyle: 0\nScaledBorderAndShadow: yes\nYCbCr Matrix: TV.601\n\n", title)
	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&b, "Style: BoxBG,%s,%d,&HFFFFFFFF,&H00FFFFFF,%s,&H00FFFFFF,%d,%d,%d,0,100,100,0,0,3,%g,0,%d,10,10,%d,1\n",
		fontName, fontSize, back, bold, italic, underline, outlinePx, alignment, style.MarginV)
	fmt.Fprintf(&b, "Style: Stroke,%s,%d,%s,&H00FFFFFF,%s,%s,%d,%d,%d,0,100,100,0,0,1,%g,0,%d,10,10,%d,1\n\n",
		fontName, fontSize, primary, outline, back, bold, italic, underline, outlinePx, alignment, style.MarginV)
	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, seg := range segments {
		text := seg.DisplayText()
		if text == "" {
			continue
		}
		text = strings.ReplaceAll(text, "\n", `\N`)
		start, end := FormatASSTime(seg.StartTime()), FormatASSTime(seg.EndTime())
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,BoxBG,,0,0,%d,,{\\q2}%s\n", start, end, style.MarginV, text)
		fmt.Fprintf(&b, "Dialogue: 1,%s,%s,Stroke,,0,0,%d,,{\\q2}%s\n", start, end, style.MarginV, text)
	}
	return b.String()
}

// WriteASS writes an ASS script to path.
func WriteASS(path string, segments []Segment, style Style, title string) error {
	return fileutil.WriteFileAtomic(path, []byte(FormatASS(segments, style, title)), 0o644)
}

func assFlag(v bool) int {
	if v {
		return -1
	}
	return 0
}
