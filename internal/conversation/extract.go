// File: internal/conversation/extract.go
package conversation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var addressPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// ExtractAddresses returns every email address in text, in left-to-right order.
func ExtractAddresses(text string) []string {
	return addressPattern.FindAllString(text, -1)
}

// FirstAddress returns the leftmost email address in text.
func FirstAddress(text string) (string, bool) {
	addr := addressPattern.FindString(text)
	return addr, addr != ""
}

// hasTrigger reports whether message expresses the intent to send.
func hasTrigger(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range triggerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// acceptableName applies the display-name rule to an already trimmed input.
func acceptableName(name string) bool {
	if utf8.RuneCountInString(name) <= 1 {
		return false
	}
	for _, banned := range []string{"@", "http", "www"} {
		if strings.Contains(name, banned) {
			return false
		}
	}
	return true
}
