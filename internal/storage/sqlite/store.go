// Package sqlite is the durable SQLite-backed store. The settlement
// transaction is the only multi-table write; everything else is plain
// row CRUD.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/agentforge/engine/internal/domain"
	"github.com/agentforge/engine/internal/secret"
	"github.com/agentforge/engine/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db     *sqlx.DB
	cipher *secret.Cipher
}

var _ storage.Store = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithCipher enables encryption of tool environments at rest. Without
// it environments are stored as plaintext JSON.
func WithCipher(c *secret.Cipher) Option {
	return func(s *Store) {
		s.cipher = c
	}
}

// New opens (or creates) the database at dbPath and initializes the
// schema.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &Store{db: db}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			wallet_address TEXT NOT NULL UNIQUE,
			name TEXT,
			credits INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			creator_id TEXT NOT NULL,
			name TEXT NOT NULL,
			biography TEXT NOT NULL,
			directive TEXT NOT NULL,
			rules TEXT NOT NULL,
			model TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (creator_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_tools (
			agent_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			arguments_schema TEXT NOT NULL,
			environment TEXT NOT NULL,
			method TEXT NOT NULL,
			url_template TEXT NOT NULL,
			headers_template TEXT NOT NULL,
			query_template TEXT NOT NULL,
			body_template TEXT NOT NULL,
			PRIMARY KEY (agent_id, position),
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			title TEXT,
			revision INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS royalties (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (creator_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_royalties_creator ON royalties(creator_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, wallet_address, name, credits, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.WalletAddress, user.Name, user.Credits, time.Now())
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "inserting user", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, wallet_address, COALESCE(name, ''), credits FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.WalletAddress, &user.Name, &user.Credits)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound(fmt.Sprintf("user %s not found", id))
	}
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "querying user", err)
	}
	return &user, nil
}

func (s *Store) AddCredits(ctx context.Context, userID string, amount int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET credits = credits + ? WHERE id = ?`, amount, userID)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "adding credits", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound(fmt.Sprintf("user %s not found", userID))
	}
	return nil
}

func (s *Store) ListRoyalties(ctx context.Context, creatorID string) ([]domain.Royalty, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, creator_id, amount FROM royalties WHERE creator_id = ? ORDER BY created_at`,
		creatorID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "querying royalties", err)
	}
	defer rows.Close()

	var royalties []domain.Royalty
	for rows.Next() {
		var r domain.Royalty
		if err := rows.Scan(&r.ID, &r.UserID, &r.CreatorID, &r.Amount); err != nil {
			return nil, domain.WrapError(domain.CodeStorage, "scanning royalty", err)
		}
		royalties = append(royalties, r)
	}
	return royalties, rows.Err()
}

func (s *Store) CreateAgent(ctx context.Context, def *domain.AgentDefinition) error {
	rules, err := json.Marshal(def.Rules)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "encoding rules", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "beginning transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agents (id, creator_id, name, biography, directive, rules, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.CreatorID, def.Name, def.Biography, def.Directive, string(rules), def.Model, time.Now())
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "inserting agent", err)
	}

	for pos, t := range def.Tools {
		row, err := s.encodeTool(t)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO agent_tools (agent_id, position, name, description, arguments_schema,
			  environment, method, url_template, headers_template, query_template, body_template)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			def.ID, pos, t.Name, t.Description, row.schema, row.environment,
			string(t.Method), t.URLTemplate, row.headers, row.query, row.body)
		if err != nil {
			return domain.WrapError(domain.CodeStorage, "inserting agent tool", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.CodeStorage, "committing agent", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*domain.AgentDefinition, error) {
	var def domain.AgentDefinition
	var rules string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, creator_id, name, biography, directive, rules, model FROM agents WHERE id = ?`, id).
		Scan(&def.ID, &def.CreatorID, &def.Name, &def.Biography, &def.Directive, &rules, &def.Model)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound(fmt.Sprintf("agent %s not found", id))
	}
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "querying agent", err)
	}
	if err := json.Unmarshal([]byte(rules), &def.Rules); err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "decoding rules", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, arguments_schema, environment, method,
		        url_template, headers_template, query_template, body_template
		 FROM agent_tools WHERE agent_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "querying agent tools", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.ToolDefinition
		var method, schema, environment, headers, query, body string
		if err := rows.Scan(&t.Name, &t.Description, &schema, &environment, &method,
			&t.URLTemplate, &headers, &query, &body); err != nil {
			return nil, domain.WrapError(domain.CodeStorage, "scanning agent tool", err)
		}
		t.Method = domain.HTTPMethod(method)
		if err := s.decodeTool(&t, schema, environment, headers, query, body); err != nil {
			return nil, err
		}
		def.Tools = append(def.Tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "iterating agent tools", err)
	}
	return &def, nil
}

func (s *Store) CreateChat(ctx context.Context, chat *domain.Chat) error {
	now := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "beginning transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, agent_id, title, revision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		chat.ID, chat.UserID, chat.AgentID, chat.Title, now, now)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "inserting chat", err)
	}

	if err := insertMessages(ctx, tx, chat.ID, chat.Messages); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.CodeStorage, "committing chat", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	var chat domain.Chat
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, agent_id, title, revision FROM chats WHERE id = ?`, id).
		Scan(&chat.ID, &chat.UserID, &chat.AgentID, &title, &chat.Revision)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound(fmt.Sprintf("chat %s not found", id))
	}
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "querying chat", err)
	}
	chat.Title = title.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM messages WHERE chat_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "querying messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, domain.WrapError(domain.CodeStorage, "scanning message", err)
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, domain.WrapError(domain.CodeStorage, "decoding message", err)
		}
		chat.Messages = append(chat.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "iterating messages", err)
	}
	return &chat, nil
}

func (s *Store) SetTitle(ctx context.Context, chatID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now(), chatID)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "updating title", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound(fmt.Sprintf("chat %s not found", chatID))
	}
	return nil
}

// Settle executes the atomic settlement: debit, royalty append, and
// message overwrite commit or fail together. The balance and revision
// guards run inside the transaction so concurrent turns cannot race
// past them.
func (s *Store) Settle(ctx context.Context, st *storage.Settlement) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "beginning settlement", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		st.Cost, st.UserID, st.Cost)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "debiting balance", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var balance int64
		if err := tx.QueryRowContext(ctx,
			`SELECT credits FROM users WHERE id = ?`, st.UserID).Scan(&balance); err != nil {
			return domain.ErrNotFound(fmt.Sprintf("user %s not found", st.UserID))
		}
		return domain.ErrInsufficientCredits(st.Cost, balance)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO royalties (id, user_id, creator_id, amount, created_at) VALUES (?, ?, ?, ?, ?)`,
		newRoyaltyID(), st.UserID, st.CreatorID, st.Cost, time.Now())
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "appending royalty", err)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE chats SET revision = revision + 1, updated_at = ? WHERE id = ? AND revision = ?`,
		time.Now(), st.ChatID, st.ChatRevision)
	if err != nil {
		return domain.WrapError(domain.CodeStorage, "bumping chat revision", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewError(domain.CodeConflict,
			fmt.Sprintf("chat %s was modified by a concurrent turn", st.ChatID))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, st.ChatID); err != nil {
		return domain.WrapError(domain.CodeStorage, "clearing messages", err)
	}
	if err := insertMessages(ctx, tx, st.ChatID, st.Messages); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.CodeStorage, "committing settlement", err)
	}
	return nil
}

func insertMessages(ctx context.Context, tx *sqlx.Tx, chatID string, messages []domain.Message) error {
	for seq, msg := range messages {
		body, err := json.Marshal(msg)
		if err != nil {
			return domain.WrapError(domain.CodeStorage, "encoding message", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, chat_id, seq, role, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, chatID, seq, string(msg.Role), string(body), time.Now())
		if err != nil {
			return domain.WrapError(domain.CodeStorage, "inserting message", err)
		}
	}
	return nil
}

func newRoyaltyID() string {
	return uuid.NewString()
}

type encodedTool struct {
	schema      string
	environment string
	headers     string
	query       string
	body        string
}

func (s *Store) encodeTool(t domain.ToolDefinition) (*encodedTool, error) {
	schema, err := json.Marshal(t.ArgumentsSchema)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "encoding arguments schema", err)
	}
	headers, err := json.Marshal(t.HeadersTemplate)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "encoding headers template", err)
	}
	query, err := json.Marshal(t.QueryTemplate)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "encoding query template", err)
	}
	body, err := json.Marshal(t.BodyTemplate)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "encoding body template", err)
	}

	env := t.Environment
	if env == nil {
		env = map[string]string{}
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStorage, "encoding environment", err)
	}
	environment := string(envJSON)
	if s.cipher != nil {
		environment, err = s.cipher.Encrypt(environment)
		if err != nil {
			return nil, domain.WrapError(domain.CodeStorage, "encrypting environment", err)
		}
	}

	return &encodedTool{
		schema:      string(schema),
		environment: environment,
		headers:     string(headers),
		query:       string(query),
		body:        string(body),
	}, nil
}

func (s *Store) decodeTool(t *domain.ToolDefinition, schema, environment, headers, query, body string) error {
	if err := json.Unmarshal([]byte(schema), &t.ArgumentsSchema); err != nil {
		return domain.WrapError(domain.CodeStorage, "decoding arguments schema", err)
	}
	if err := json.Unmarshal([]byte(headers), &t.HeadersTemplate); err != nil {
		return domain.WrapError(domain.CodeStorage, "decoding headers template", err)
	}
	if err := json.Unmarshal([]byte(query), &t.QueryTemplate); err != nil {
		return domain.WrapError(domain.CodeStorage, "decoding query template", err)
	}
	if err := json.Unmarshal([]byte(body), &t.BodyTemplate); err != nil {
		return domain.WrapError(domain.CodeStorage, "decoding body template", err)
	}

	env := environment
	if s.cipher != nil {
		var err error
		env, err = s.cipher.Decrypt(environment)
		if err != nil {
			return domain.WrapError(domain.CodeStorage, "decrypting environment", err)
		}
	}
	if err := json.Unmarshal([]byte(env), &t.Environment); err != nil {
		return domain.WrapError(domain.CodeStorage, "decoding environment", err)
	}
	return nil
}
