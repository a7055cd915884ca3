package loghub

import (
	"html"
	"regexp"
	"strings"
)

// Formatter turns a raw log line into the payload sent to subscribers.
type Formatter func(line string) string

var ansiPattern = regexp.MustCompile("\x1b\\[(\\d+)m")

var ansiColors = map[string]string{
	"30": "black", "31": "red", "32": "green", "33": "yellow",
	"34": "blue", "35": "magenta", "36": "cyan", "37": "white",
	"90": "gray", "91": "lightred", "92": "lightgreen", "93": "lightyellow",
	"94": "lightblue", "95": "lightmagenta", "96": "lightcyan", "97": "white",
}

// FormatHTML escapes line, turns ANSI colour codes into spans and wraps
// the result in a span classed by log level.
func FormatHTML(line string) string {
	return HighlightLevel(ANSIToHTML(html.EscapeString(line)))
}

// FormatPlain strips ANSI codes.
func FormatPlain(line string) string {
	return ansiPattern.ReplaceAllString(line, "")
}

// ANSIToHTML replaces colour codes with opening spans and resets with
// closing spans. Other codes are removed.
func ANSIToHTML(line string) string {
	return ansiPattern.ReplaceAllStringFunc(line, func(m string) string {
		code := ansiPattern.FindStringSubmatch(m)[1]
		if color, ok := ansiColors[code]; ok {
			return `<span style="color: ` + color + `;">`
		}
		if code == "0" {
			return "</span>"
		}
		return ""
	})
}

// HighlightLevel wraps line in a span with class warning or error when it
// mentions WARN or ERR.
func HighlightLevel(line string) string {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "WARN"):
		return `<span class="warning">` + line + `</span>`
	case strings.Contains(upper, "ERR"):
		return `<span class="error">` + line + `</span>`
	default:
		return `<span>` + line + `</span>`
	}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripMarkup removes the markup added by FormatHTML.
func StripMarkup(payload string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(payload, ""))
}
