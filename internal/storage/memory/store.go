// Package memory is an in-process store used in tests and for local
// development without a database file.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/storage"
)

// Store keeps everything in maps guarded by a single mutex. Settle
// stages its writes and only assigns them once every step has
// succeeded, so an injected failure never leaves a partial settlement.
type Store struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	agents    map[string]*domain.AgentDefinition
	chats     map[string]*domain.Chat
	royalties []domain.Royalty

	// FailChatWrite, when set, makes the message overwrite step of
	// Settle fail after the debit and royalty have been staged.
	FailChatWrite error
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:  make(map[string]*domain.User),
		agents: make(map[string]*domain.AgentDefinition),
		chats:  make(map[string]*domain.Chat),
	}
}

func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound(fmt.Sprintf("user %s not found", id))
	}
	clone := *user
	return &clone, nil
}

func (s *Store) AddCredits(_ context.Context, userID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound(fmt.Sprintf("user %s not found", userID))
	}
	user.Credits += amount
	return nil
}

func (s *Store) ListRoyalties(_ context.Context, creatorID string) ([]domain.Royalty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Royalty
	for _, r := range s.royalties {
		if r.CreatorID == creatorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) CreateAgent(_ context.Context, def *domain.AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *def
	clone.Tools = append([]domain.ToolDefinition(nil), def.Tools...)
	s.agents[def.ID] = &clone
	return nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*domain.AgentDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.agents[id]
	if !ok {
		return nil, domain.ErrNotFound(fmt.Sprintf("agent %s not found", id))
	}
	clone := *def
	clone.Tools = append([]domain.ToolDefinition(nil), def.Tools...)
	return &clone, nil
}

func (s *Store) CreateChat(_ context.Context, chat *domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = cloneChat(chat)
	return nil
}

func (s *Store) GetChat(_ context.Context, id string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, domain.ErrNotFound(fmt.Sprintf("chat %s not found", id))
	}
	return cloneChat(chat), nil
}

func (s *Store) SetTitle(_ context.Context, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return domain.ErrNotFound(fmt.Sprintf("chat %s not found", chatID))
	}
	chat.Title = title
	return nil
}

func (s *Store) Settle(_ context.Context, st *storage.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[st.UserID]
	if !ok {
		return domain.ErrNotFound(fmt.Sprintf("user %s not found", st.UserID))
	}
	if user.Credits < st.Cost {
		return domain.ErrInsufficientCredits(st.Cost, user.Credits)
	}
	chat, ok := s.chats[st.ChatID]
	if !ok {
		return domain.ErrNotFound(fmt.Sprintf("chat %s not found", st.ChatID))
	}
	if chat.Revision != st.ChatRevision {
		return domain.NewError(domain.CodeConflict,
			fmt.Sprintf("chat %s was modified by a concurrent turn", st.ChatID))
	}

	// Stage everything first; nothing below this point is assigned
	// until all checks, including the injected fault, have passed.
	newBalance := user.Credits - st.Cost
	royalty := domain.Royalty{
		ID:        uuid.NewString(),
		UserID:    st.UserID,
		CreatorID: st.CreatorID,
		Amount:    st.Cost,
	}
	updated := cloneChat(chat)
	updated.Revision++
	updated.Messages = append([]domain.Message(nil), st.Messages...)

	if s.FailChatWrite != nil {
		return domain.WrapError(domain.CodeStorage, "writing messages", s.FailChatWrite)
	}

	user.Credits = newBalance
	s.royalties = append(s.royalties, royalty)
	s.chats[st.ChatID] = updated
	return nil
}

func cloneChat(chat *domain.Chat) *domain.Chat {
	clone := *chat
	clone.Messages = append([]domain.Message(nil), chat.Messages...)
	return &clone
}
