// Package conversation holds the in-memory shape of a chat session: role-tagged
// entries whose content blocks mirror the Responses API input format.
package conversation

import "fmt"

// Role identifies the author of an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// BlockKind tags a content block as user input or model output.
type BlockKind string

const (
	BlockInputText  BlockKind = "input_text"
	BlockOutputText BlockKind = "output_text"
)

// Kind returns the block kind entries of this role carry.
func (r Role) Kind() BlockKind {
	if r == RoleAssistant {
		return BlockOutputText
	}
	return BlockInputText
}

// Block is a single piece of text content.
type Block struct {
	Type BlockKind `json:"type"`
	Text string    `json:"text"`
}

// Entry is one message of a conversation.
type Entry struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// NewEntry builds an entry with a single text block of the kind matching role.
func NewEntry(role Role, text string) Entry {
	return Entry{
		Role:    role,
		Content: []Block{{Type: role.Kind(), Text: text}},
	}
}

// Text returns the text of the first block, or "" for an entry without content.
func (e Entry) Text() string {
	if len(e.Content) == 0 {
		return ""
	}
	return e.Content[0].Text
}

// Prompt is a user entry annotated with its position in the conversation.
type Prompt struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Conversation is an ordered list of entries. It is not safe for concurrent
// use; callers hold the owning session's lock.
type Conversation struct {
	entries []Entry
}

// Append adds an entry at the end.
func (c *Conversation) Append(e Entry) {
	c.entries = append(c.entries, e)
}

// Len reports the number of entries.
func (c *Conversation) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the entries, oldest first. The result is never nil
// so it encodes as a JSON array.
func (c *Conversation) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Truncate drops the oldest entries so at most max remain and returns how many
// were dropped. A non-positive max disables the cap.
func (c *Conversation) Truncate(max int) int {
	if max <= 0 || len(c.entries) <= max {
		return 0
	}
	dropped := len(c.entries) - max
	kept := make([]Entry, max)
	copy(kept, c.entries[dropped:])
	c.entries = kept
	return dropped
}

// RecentPrompts returns up to n of the latest user entries in conversation order.
func (c *Conversation) RecentPrompts(n int) []Prompt {
	out := make([]Prompt, 0, n)
	if n <= 0 {
		return out
	}
	for i := len(c.entries) - 1; i >= 0 && len(out) < n; i-- {
		if c.entries[i].Role == RoleUser {
			out = append(out, Prompt{Index: i, Text: c.entries[i].Text()})
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
