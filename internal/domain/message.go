package domain

import "github.com/google/uuid"

// Role discriminates the message union. Every consumer switches
// exhaustively on it; an unknown role is a protocol violation.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
	RoleTool  Role = "tool"
)

// ToolCall is a single tool invocation requested by an AI message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Usage represents token usage reported by the model for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage report into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Message is a tagged union over human, ai, and tool messages.
// Ordering is significant and append-only within a chat.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`

	// AI messages only: zero or more tool-call requests and
	// optional token-usage metadata.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`

	// Tool messages only: the id of the tool call this answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// NewHumanMessage creates a human message with a fresh id.
func NewHumanMessage(content string) Message {
	return Message{
		ID:      uuid.New().String(),
		Role:    RoleHuman,
		Content: content,
	}
}

// NewToolMessage creates a tool message answering the given tool call.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{
		ID:         uuid.New().String(),
		Role:       RoleTool,
		Name:       name,
		Content:    content,
		ToolCallID: toolCallID,
	}
}

// Chat is an ordered message list owned by one user/agent pair.
// Revision guards the settlement overwrite against concurrent turns.
type Chat struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	AgentID  string    `json:"agent_id"`
	Title    string    `json:"title,omitempty"`
	Revision int64     `json:"revision"`
	Messages []Message `json:"messages"`
}
