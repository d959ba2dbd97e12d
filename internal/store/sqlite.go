package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/grogi/agent-server/internal/domain"
	"github.com/grogi/agent-server/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	// All timestamp columns hold Unix nanoseconds.
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'etc',
		title TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		reality_score INTEGER,
		score_breakdown TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS share_cards (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id),
		summary TEXT NOT NULL,
		score INTEGER NOT NULL,
		actions TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_share_cards_message ON share_cards(message_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSession creates or touches the session row.
func (s *SQLiteStore) EnsureSession(ctx context.Context, sessionID, userID, category string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if category == "" {
		category = "etc"
	}
	now := time.Now().UnixNano()
	query := `
	INSERT INTO sessions (id, user_id, category, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		category = excluded.category,
		updated_at = excluded.updated_at`

	return s.execRetry(ctx, "ensure session", query, sessionID, userID, category, now, now)
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, category, title, created_at, updated_at
		FROM sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.Session
	var title sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&sess.ID, &sess.UserID, &sess.Category, &title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.Title = title.String
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.UpdatedAt = time.Unix(0, updatedAt)

	return &sess, nil
}

// SetSessionTitle stores the generated title for a session.
func (s *SQLiteStore) SetSessionTitle(ctx context.Context, sessionID, title string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, title, time.Now().UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SetSessionTitle affected 0 rows", "session_id", sessionID)
	}

	return nil
}

// AppendMessage persists one chat message and returns its id.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var realityScore interface{}
	if msg.RealityScore != nil {
		realityScore = *msg.RealityScore
	}
	var breakdown interface{}
	if msg.ScoreBreakdown != nil {
		breakdown = *msg.ScoreBreakdown
	}

	query := `
	INSERT INTO messages (id, session_id, role, content, reality_score, score_breakdown, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	err := s.execRetry(ctx, "append message", query,
		id, msg.SessionID, msg.Role, msg.Content,
		realityScore, breakdown, createdAt.UnixNano(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// History returns the most recent messages of a session in chronological order.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	// Tie-break on rowid: ids are random UUIDs, but rowids follow insertion
	// order, so messages written in the same instant keep their append order.
	query := `
		SELECT id, session_id, role, content, reality_score, score_breakdown, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var msg domain.Message
		var realityScore sql.NullInt64
		var breakdown sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&realityScore, &breakdown, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}

		if realityScore.Valid {
			v := int(realityScore.Int64)
			msg.RealityScore = &v
		}
		if breakdown.Valid {
			v := breakdown.String
			msg.ScoreBreakdown = &v
		}
		msg.CreatedAt = time.Unix(0, createdAt)
		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	// Newest-first query, chronological result.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

// SaveShareCard persists the share card attached to a message.
func (s *SQLiteStore) SaveShareCard(ctx context.Context, card *domain.StoredShareCard) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := card.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := card.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
	INSERT INTO share_cards (id, message_id, summary, score, actions, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return s.execRetry(ctx, "save share card", query,
		id, card.MessageID, card.Summary, card.Score, card.Actions, createdAt.UnixNano())
}

// execRetry runs a write statement with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) execRetry(ctx context.Context, op, query string, args ...interface{}) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
			slog.Debug("Write hit SQLITE_BUSY, retrying", "op", op, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
