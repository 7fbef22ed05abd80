package chat

import "strings"

const idSeparator = "_"

// ConversationID derives the deterministic id of the 1:1 conversation
// between a and b. It is symmetric in its arguments.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + idSeparator + b
}

// ParticipantsOf splits a 1:1 conversation id. ok is false for group ids.
func ParticipantsOf(conversationID string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(conversationID, idSeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, idSeparator) {
		return "", "", false
	}
	return a, b, true
}
