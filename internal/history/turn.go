// Package history keeps bounded per-session conversation turns.
package history

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultWindow is the number of turns a session keeps.
const DefaultWindow = 20

// DefaultSessionID is used when a caller does not name a session.
const DefaultSessionID = "default"

// Turn is one stored message of a session.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Window keeps only the most recent max turns, preserving order.
// A max of zero or less disables trimming.
func Window(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}

// Assemble builds the outbound message list: system prompt first, then
// the session turns in stored order.
func Assemble(system string, turns []Turn) []Turn {
	messages := make([]Turn, 0, 1+len(turns))
	messages = append(messages, Turn{Role: RoleSystem, Content: system})
	messages = append(messages, turns...)
	return messages
}
