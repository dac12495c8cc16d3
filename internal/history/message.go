package history

import (
	"time"

	"github.com/comigor/chatproxy/internal/conversation"
)

// Message represents a single conversational message persisted in SQLite.
type Message struct {
	ID        int64             `json:"id"`
	SessionID string            `json:"session_id"`
	Role      conversation.Role `json:"role"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
}
