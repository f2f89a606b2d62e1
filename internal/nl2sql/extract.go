package nl2sql

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?i:sql)?\\s*(.*?)```")

// ExtractSQL returns the trimmed content of the first fenced code block, or the
// trimmed text when there is none. Later blocks are ignored.
func ExtractSQL(text string) string {
	if match := fencedBlock.FindStringSubmatch(text); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(text)
}
