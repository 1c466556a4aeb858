package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	id := uuid.NewString()
	return id[:8]
}

// parseCommand splits "/name@bot rest" into the lower-cased name and the
// trimmed rest. ok is false for non-command text.
func parseCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(word, '\n'); i >= 0 {
		rest = word[i+1:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(rest), true
}
