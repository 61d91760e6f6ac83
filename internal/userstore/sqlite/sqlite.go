package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/userstore"
)

var _ userstore.Store = (*Store)(nil)

// Store implements userstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite user store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; concurrent provisioning would otherwise hit SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	user_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	balance INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_turns (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL CHECK(role IN ('user','assistant','system')),
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations(user_id, updated_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser inserts the user unless present and returns the stored record.
func (s *Store) EnsureUser(ctx context.Context, u userstore.User, balance int64) (*userstore.User, bool, error) {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return nil, false, errors.New("userstore: user id required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, user_name, email, balance, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, id, u.UserName, strings.ToLower(strings.TrimSpace(u.Email)), balance, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("userstore: ensure user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	stored, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return stored, n > 0, nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, id string) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_name, email, balance, created_at, updated_at FROM users WHERE id = ?`, id)
	var u userstore.User
	if err := row.Scan(&u.ID, &u.UserName, &u.Email, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userstore.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateConversation starts an empty conversation owned by userID.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*userstore.Conversation, error) {
	now := time.Now().UTC()
	c := &userstore.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     userstore.NormalizeTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     []userstore.Turn{},
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversations(id, user_id, title, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("userstore: create conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]userstore.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, title, created_at, updated_at
FROM conversations
WHERE user_id = ?
ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []userstore.Conversation{}
	for rows.Next() {
		var c userstore.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns the conversation with its turns in order.
func (s *Store) GetConversation(ctx context.Context, userID, id string) (*userstore.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	var c userstore.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userstore.ErrNotFound
		}
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT role, content, created_at FROM conversation_turns WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	c.Turns = []userstore.Turn{}
	for rows.Next() {
		var t userstore.Turn
		var role string
		if err := rows.Scan(&role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = chat.Role(role)
		c.Turns = append(c.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

// AppendTurns appends turns to the end of a conversation owned by userID.
func (s *Store) AppendTurns(ctx context.Context, userID, conversationID string, turns []chat.Turn) (*userstore.Conversation, error) {
	if err := userstore.ValidateTurns(turns); err != nil {
		return nil, err
	}
	if err := s.appendTurns(ctx, userID, conversationID, turns); err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, userID, conversationID)
}

func (s *Store) appendTurns(ctx context.Context, userID, conversationID string, turns []chat.Turn) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var owner string
	if err = tx.QueryRowContext(ctx, `SELECT user_id FROM conversations WHERE id = ?`, conversationID).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = userstore.ErrNotFound
		}
		return err
	}
	if owner != userID {
		return userstore.ErrNotFound
	}
	var next int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns WHERE conversation_id = ?`, conversationID).Scan(&next); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i, t := range turns {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_turns(conversation_id, seq, role, content, created_at) VALUES(?, ?, ?, ?, ?)`,
			conversationID, next+int64(i), string(t.Role), t.Content, now); err != nil {
			return fmt.Errorf("userstore: append turn: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID)
	return err
}
