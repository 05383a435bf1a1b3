package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/storage"
)

func seed(t *testing.T, store *Store, ctx context.Context) *storage.Settlement {
	t.Helper()
	if err := store.CreateUser(ctx, &domain.User{ID: "u-1", WalletAddress: "0xabc", Credits: 100}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateUser(ctx, &domain.User{ID: "u-2", WalletAddress: "0xdef"}); err != nil {
		t.Fatal(err)
	}
	chat := &domain.Chat{
		ID:       "c-1",
		UserID:   "u-1",
		AgentID:  "a-1",
		Messages: []domain.Message{domain.NewHumanMessage("hello")},
	}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatal(err)
	}
	return &storage.Settlement{
		ChatID:       "c-1",
		ChatRevision: 0,
		Messages: append(chat.Messages,
			domain.Message{ID: "m-2", Role: domain.RoleAI, Content: "hi"}),
		UserID:    "u-1",
		CreatorID: "u-2",
		Cost:      30,
	}
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	store := New()
	st := seed(t, store, ctx)

	if err := store.Settle(ctx, st); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	user, _ := store.GetUser(ctx, "u-1")
	if user.Credits != 70 {
		t.Errorf("credits = %d, want 70", user.Credits)
	}
	royalties, _ := store.ListRoyalties(ctx, "u-2")
	if len(royalties) != 1 || royalties[0].Amount != 30 {
		t.Errorf("royalties = %+v", royalties)
	}
	chat, _ := store.GetChat(ctx, "c-1")
	if chat.Revision != 1 || len(chat.Messages) != 2 {
		t.Errorf("chat: revision=%d messages=%d", chat.Revision, len(chat.Messages))
	}
}

func TestSettleInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	store := New()
	st := seed(t, store, ctx)
	st.Cost = 500

	if err := store.Settle(ctx, st); !domain.IsCode(err, domain.CodeInsufficientCredits) {
		t.Fatalf("expected insufficient_credits, got %v", err)
	}
	user, _ := store.GetUser(ctx, "u-1")
	if user.Credits != 100 {
		t.Errorf("credits = %d, want 100", user.Credits)
	}
}

func TestSettleRevisionConflict(t *testing.T) {
	ctx := context.Background()
	store := New()
	st := seed(t, store, ctx)
	st.ChatRevision = 3

	if err := store.Settle(ctx, st); !domain.IsCode(err, domain.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSettleInjectedFailureLeavesNoPartialWrite(t *testing.T) {
	ctx := context.Background()
	store := New()
	st := seed(t, store, ctx)
	store.FailChatWrite = errors.New("disk full")

	err := store.Settle(ctx, st)
	if !domain.IsCode(err, domain.CodeStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}

	user, _ := store.GetUser(ctx, "u-1")
	if user.Credits != 100 {
		t.Errorf("debit leaked: credits = %d, want 100", user.Credits)
	}
	royalties, _ := store.ListRoyalties(ctx, "u-2")
	if len(royalties) != 0 {
		t.Errorf("royalty leaked: %+v", royalties)
	}
	chat, _ := store.GetChat(ctx, "c-1")
	if chat.Revision != 0 || len(chat.Messages) != 1 {
		t.Errorf("chat mutated: revision=%d messages=%d", chat.Revision, len(chat.Messages))
	}
}
