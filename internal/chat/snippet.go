package chat

import "github.com/aquilax/truncate"

const (
	snippetMaxRunes = 50
	snippetOmission = "..."
)

// Snippet renders the chat-list preview of a message text. Text of up to 50
// characters is kept as is; longer text is cut to 47 characters plus "...".
func Snippet(text string) string {
	return truncate.Truncate(text, snippetMaxRunes, snippetOmission, truncate.PositionEnd)
}
