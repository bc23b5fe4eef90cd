// Package intent classifies a transcription result as dictation or
// command text based on a configured set of wake prefixes.
package intent

import "strings"

// DefaultWakePrefixes is used when no override is configured.
var DefaultWakePrefixes = []string{"zwingli", "zwingly"}

// Mode classifies a transcript.
type Mode string

const (
	ModeDictation Mode = "dictation"
	ModeCommand   Mode = "command"
	ModeUnknown   Mode = "unknown"
)

// Result is the outcome of routing one transcript.
type Result struct {
	Mode          Mode
	DictationText string
	CommandText   string
	Reason        string
}

var separators = []byte{' ', ',', ':', ';', '.'}

// Route classifies text against prefixes (case-insensitive). The
// router only classifies and strips the matched prefix; it never
// transforms the remaining text.
func Route(text string, prefixes []string) Result {
	if text == "" {
		return Result{Mode: ModeUnknown, Reason: "empty"}
	}
	if len(prefixes) == 0 {
		prefixes = DefaultWakePrefixes
	}

	lower := strings.ToLower(text)
	for _, prefix := range prefixes {
		lowerPrefix := strings.ToLower(prefix)
		if lower == lowerPrefix {
			return Result{Mode: ModeCommand, CommandText: "", Reason: "prefix:" + prefix}
		}
		if !strings.HasPrefix(lower, lowerPrefix) {
			continue
		}
		rest := text[len(lowerPrefix):]
		if rest == "" {
			continue
		}
		if sep, ok := leadingSeparator(rest); ok {
			remainder := strings.TrimLeft(rest[len(sep):], " \t")
			return Result{Mode: ModeCommand, CommandText: remainder, Reason: "prefix:" + prefix}
		}
	}

	return Result{Mode: ModeDictation, DictationText: strings.TrimSpace(text), Reason: ""}
}

// leadingSeparator reports whether rest begins with one of the
// configured separator bytes, returning that single-byte string.
func leadingSeparator(rest string) (string, bool) {
	if rest == "" {
		return "", false
	}
	for _, sep := range separators {
		if rest[0] == sep {
			return string(sep), true
		}
	}
	return "", false
}
