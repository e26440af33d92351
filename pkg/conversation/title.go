package conversation

import (
	"regexp"
	"strings"
	"time"
)

const maxTitleLen = 30

var defaultTitlePattern = regexp.MustCompile(`^Session \d{2}:\d{2}$`)

// DefaultTitle is the title given to conversations created without one.
func DefaultTitle(now time.Time) string {
	return "Session " + now.Format("15:04")
}

// IsDefaultTitle reports whether title is a placeholder that the first
// message may replace.
func IsDefaultTitle(title string) bool {
	switch strings.TrimSpace(title) {
	case "", "New Chat", "New Session":
		return true
	}
	return defaultTitlePattern.MatchString(title)
}

// TitleFromMessage derives a title from a user message. Messages longer
// than 30 characters keep their first 27 and gain "...".
func TitleFromMessage(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	runes := []rune(message)
	if len(runes) > maxTitleLen {
		return string(runes[:maxTitleLen-3]) + "..."
	}
	return message
}
