package llms

// Role describes who a message is from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged message in a conversation. Content is
// accumulated incrementally from word- or token-level deltas.
type Message struct {
	Role    Role
	Content string
}
