package backend

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"weave/internal/chat"
)

// MaxTitleRunes bounds titles derived from prompts.
const MaxTitleRunes = 255

// DefaultTitle is the title of a session created without one.
func DefaultTitle(k chat.Kind) string {
	return fmt.Sprintf("%s session", k)
}

// AutoTitle names a session after its first user prompt. It only applies
// while the session still carries its default title and has no user message.
func AutoTitle(s *chat.Session, prompt string) bool {
	if s.Title != "" && s.Title != DefaultTitle(s.Kind) {
		return false
	}
	for _, m := range s.Messages {
		if m.Role == chat.RoleUser {
			return false
		}
	}
	title := strings.Join(strings.Fields(prompt), " ")
	if title == "" {
		return false
	}
	if utf8.RuneCountInString(title) > MaxTitleRunes {
		title = string([]rune(title)[:MaxTitleRunes])
	}
	s.Title = title
	return true
}
