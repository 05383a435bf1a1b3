// Package storage defines the repository boundary the settlement
// pipeline consumes. Implementations live in subpackages; sqlite is
// the durable store, memory backs tests.
package storage

import (
	"context"

	"github.com/agentforge/engine/internal/domain"
)

// Settlement is the single multi-document atomic unit concluding a
// turn: the balance debit, the royalty append, and the chat overwrite
// commit or fail together.
type Settlement struct {
	ChatID string

	// ChatRevision is the revision observed when the turn began; the
	// overwrite fails with conflict if it moved.
	ChatRevision int64

	// Messages is the full updated sequence that replaces the chat's
	// persisted message list.
	Messages []domain.Message

	UserID    string
	CreatorID string
	Cost      int64
}

// AgentStore persists agent definitions, private fields included.
type AgentStore interface {
	CreateAgent(ctx context.Context, def *domain.AgentDefinition) error
	GetAgent(ctx context.Context, id string) (*domain.AgentDefinition, error)
}

// ChatStore persists chats and their ordered message lists.
type ChatStore interface {
	CreateChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, id string) (*domain.Chat, error)

	// SetTitle is a best-effort side update outside the settlement
	// transaction.
	SetTitle(ctx context.Context, chatID, title string) error
}

// UserStore persists users and their credit balances.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// AddCredits tops up a balance; debits happen only through Settle.
	AddCredits(ctx context.Context, userID string, amount int64) error

	ListRoyalties(ctx context.Context, creatorID string) ([]domain.Royalty, error)
}

// SettlementStore executes the atomic settlement. Implementations must
// guarantee all-or-nothing semantics: insufficient balance surfaces as
// insufficient_credits, a moved chat revision as conflict, and neither
// leaves any partial write behind.
type SettlementStore interface {
	Settle(ctx context.Context, s *Settlement) error
}

// Store groups every capability the pipeline consumes.
type Store interface {
	AgentStore
	ChatStore
	UserStore
	SettlementStore
}
