package sqlite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/secret"
	"github.com/agentforge/engine/internal/storage"
)

func openStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "engine.db"), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUsers(t *testing.T, store *Store, ctx context.Context) (user, creator *domain.User) {
	t.Helper()
	user = &domain.User{ID: "u-1", WalletAddress: "0xabc", Name: "alice", Credits: 100}
	creator = &domain.User{ID: "u-2", WalletAddress: "0xdef", Name: "bob", Credits: 0}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateUser(ctx, creator); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user, creator
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seedUsers(t, store, ctx)

	got, err := store.GetUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.WalletAddress != "0xabc" || got.Credits != 100 {
		t.Errorf("got %+v", got)
	}

	if err := store.AddCredits(ctx, "u-1", 50); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}
	got, _ = store.GetUser(ctx, "u-1")
	if got.Credits != 150 {
		t.Errorf("credits = %d, want 150", got.Credits)
	}

	if _, err := store.GetUser(ctx, "missing"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seedUsers(t, store, ctx)

	def := &domain.AgentDefinition{
		ID:        "a-1",
		CreatorID: "u-2",
		Name:      "Scout",
		Biography: "Finds things.",
		Directive: "Answer concisely.",
		Rules:     []string{"never guess", "cite sources"},
		Model:     "llama-3.3-70b-versatile",
		Tools: []domain.ToolDefinition{
			{
				Name:        "lookup",
				Description: "Look up a record",
				ArgumentsSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"id": map[string]any{"type": "string"}},
					"required":   []any{"id"},
				},
				Environment:     map[string]string{"api_key": "sk-secret"},
				Method:          domain.MethodGet,
				URLTemplate:     "https://api.example.com/records/{id}",
				HeadersTemplate: map[string]any{"Authorization": "Bearer {api_key}"},
				QueryTemplate:   map[string]any{},
				BodyTemplate:    map[string]any{},
			},
		},
	}
	if err := store.CreateAgent(ctx, def); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	got, err := store.GetAgent(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != "Scout" || len(got.Rules) != 2 || got.Rules[1] != "cite sources" {
		t.Errorf("agent fields: %+v", got)
	}
	if len(got.Tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(got.Tools))
	}
	tool := got.Tools[0]
	if tool.Environment["api_key"] != "sk-secret" {
		t.Errorf("environment = %v", tool.Environment)
	}
	if tool.URLTemplate != "https://api.example.com/records/{id}" {
		t.Errorf("url template = %q", tool.URLTemplate)
	}
	if tool.ArgumentsSchema["type"] != "object" {
		t.Errorf("arguments schema = %v", tool.ArgumentsSchema)
	}
}

func TestAgentEnvironmentEncryptedAtRest(t *testing.T) {
	ctx := context.Background()

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	cipher, err := secret.NewCipher(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	store := openStore(t, WithCipher(cipher))
	seedUsers(t, store, ctx)

	def := &domain.AgentDefinition{
		ID:        "a-1",
		CreatorID: "u-2",
		Name:      "Scout",
		Model:     "llama-3.3-70b-versatile",
		Tools: []domain.ToolDefinition{{
			Name:            "lookup",
			ArgumentsSchema: map[string]any{"type": "object"},
			Environment:     map[string]string{"api_key": "sk-secret"},
			Method:          domain.MethodGet,
			URLTemplate:     "https://api.example.com",
			HeadersTemplate: map[string]any{},
			QueryTemplate:   map[string]any{},
			BodyTemplate:    map[string]any{},
		}},
	}
	if err := store.CreateAgent(ctx, def); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	var stored string
	if err := store.db.QueryRow(`SELECT environment FROM agent_tools WHERE agent_id = 'a-1'`).Scan(&stored); err != nil {
		t.Fatalf("querying stored environment: %v", err)
	}
	if stored == `{"api_key":"sk-secret"}` {
		t.Error("environment stored in plaintext")
	}

	got, err := store.GetAgent(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Tools[0].Environment["api_key"] != "sk-secret" {
		t.Errorf("decrypted environment = %v", got.Tools[0].Environment)
	}
}

func TestChatRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seedUsers(t, store, ctx)

	chat := &domain.Chat{
		ID:      "c-1",
		UserID:  "u-1",
		AgentID: "a-1",
		Messages: []domain.Message{
			domain.NewHumanMessage("hello"),
		},
	}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	got, err := store.GetChat(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.Revision != 0 {
		t.Errorf("revision = %d, want 0", got.Revision)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}

	if err := store.SetTitle(ctx, "c-1", "Greeting"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	got, _ = store.GetChat(ctx, "c-1")
	if got.Title != "Greeting" {
		t.Errorf("title = %q", got.Title)
	}

	if _, err := store.GetChat(ctx, "missing"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func settlementFixture(t *testing.T, store *Store, ctx context.Context) *storage.Settlement {
	t.Helper()
	seedUsers(t, store, ctx)
	chat := &domain.Chat{
		ID:       "c-1",
		UserID:   "u-1",
		AgentID:  "a-1",
		Messages: []domain.Message{domain.NewHumanMessage("hello")},
	}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	reply := domain.Message{ID: "m-2", Role: domain.RoleAI, Content: "hi there"}
	return &storage.Settlement{
		ChatID:       "c-1",
		ChatRevision: 0,
		Messages:     append(chat.Messages, reply),
		UserID:       "u-1",
		CreatorID:    "u-2",
		Cost:         30,
	}
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	st := settlementFixture(t, store, ctx)

	if err := store.Settle(ctx, st); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	user, _ := store.GetUser(ctx, "u-1")
	if user.Credits != 70 {
		t.Errorf("credits = %d, want 70", user.Credits)
	}

	royalties, err := store.ListRoyalties(ctx, "u-2")
	if err != nil {
		t.Fatalf("ListRoyalties: %v", err)
	}
	if len(royalties) != 1 || royalties[0].Amount != 30 {
		t.Errorf("royalties = %+v", royalties)
	}

	chat, _ := store.GetChat(ctx, "c-1")
	if chat.Revision != 1 {
		t.Errorf("revision = %d, want 1", chat.Revision)
	}
	if len(chat.Messages) != 2 || chat.Messages[1].Content != "hi there" {
		t.Errorf("messages = %+v", chat.Messages)
	}
}

func TestSettleInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	st := settlementFixture(t, store, ctx)
	st.Cost = 500

	err := store.Settle(ctx, st)
	if !domain.IsCode(err, domain.CodeInsufficientCredits) {
		t.Fatalf("expected insufficient_credits, got %v", err)
	}

	// Nothing may have been written.
	user, _ := store.GetUser(ctx, "u-1")
	if user.Credits != 100 {
		t.Errorf("credits = %d, want 100", user.Credits)
	}
	royalties, _ := store.ListRoyalties(ctx, "u-2")
	if len(royalties) != 0 {
		t.Errorf("royalties = %+v", royalties)
	}
	chat, _ := store.GetChat(ctx, "c-1")
	if chat.Revision != 0 || len(chat.Messages) != 1 {
		t.Errorf("chat mutated: revision=%d messages=%d", chat.Revision, len(chat.Messages))
	}
}

func TestSettleRevisionConflict(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	st := settlementFixture(t, store, ctx)
	st.ChatRevision = 7

	err := store.Settle(ctx, st)
	if !domain.IsCode(err, domain.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The debit must have rolled back with the rest.
	user, _ := store.GetUser(ctx, "u-1")
	if user.Credits != 100 {
		t.Errorf("credits = %d, want 100", user.Credits)
	}
}
