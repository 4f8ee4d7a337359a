package translate

import (
	"strings"
	"unicode/utf8"
)

const (
	cleanMinNewlines = 3
	cleanMinLongest  = 4
)

// Clean prepares OCR text for translation. Text spread over many lines is
// reordered so the longest line leads and the shorter fragments follow on one
// line; if even the longest line is tiny the text is noise and "" is returned.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	if strings.Count(text, "\n") < cleanMinNewlines {
		return text
	}

	lines := strings.Split(text, "\n")
	longest, maxLen := 0, 0
	for i, l := range lines {
		if n := utf8.RuneCountInString(l); n > maxLen {
			longest, maxLen = i, n
		}
	}
	if maxLen < cleanMinLongest {
		return ""
	}

	var rest []string
	for _, l := range lines {
		if utf8.RuneCountInString(l) < maxLen {
			if l = strings.TrimSpace(l); l != "" {
				rest = append(rest, l)
			}
		}
	}
	return strings.TrimSpace(lines[longest]) + "\n" + strings.Join(rest, "  ")
}
