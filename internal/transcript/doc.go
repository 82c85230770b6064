// Package transcript holds the canonical timed-text document and its
// subtitle renderings.
//
// Recognition produces a Transcript of source-language segments, translation
// fills in Translation per segment, and subtitle assembly renders the
// display text as SRT or a styled ASS script.
package transcript
