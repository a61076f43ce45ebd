package types

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn in an OpenAI-style request
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
