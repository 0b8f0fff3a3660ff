package chat

import "fmt"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Assistant messages grow while their
// session streams.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`

	generated int
}

func errorNotice(err error) string {
	return fmt.Sprintf("\n\n[error: %v]", err)
}
