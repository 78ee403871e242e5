package models

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatTurn is a role-tagged entry of the history a client sends along with a chat request.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
