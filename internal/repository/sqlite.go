package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

// Fixed-width UTC layout so that stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store and ReceiptIndex on a single SQLite file.
// It is meant for local development and single-instance deployments.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, log: log.Named("sqlite")}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	s.log.Info("sqlite store ready", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_a TEXT NOT NULL,
			user_b TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations(user_a, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations(user_b, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			from_user TEXT NOT NULL,
			to_user TEXT NOT NULL,
			message TEXT NOT NULL,
			message_back TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			delivered_at TEXT,
			seen_at TEXT,
			UNIQUE (conversation_id, id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (status IN ('sent', 'delivered', 'seen'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_id ON messages(id);

		CREATE TABLE IF NOT EXISTS unseen_receipts (
			recipient TEXT NOT NULL,
			sender TEXT NOT NULL,
			message_id TEXT NOT NULL,
			PRIMARY KEY (recipient, sender, message_id)
		);
	`)
	return err
}

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) (time.Time, error) { return time.Parse(tsLayout, s) }

func parseNullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTS(*t), Valid: true}
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, key string, m domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := formatTS(time.Now())
	pair := domain.Participants(m.From, m.To)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_a, user_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		key, pair[0], pair[1], now, now,
	); err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, from_user, to_user, message, message_back, type, status, created_at, delivered_at, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, id) DO NOTHING`,
		m.ID, key, m.From, m.To, m.Message, m.MessageBack, m.Type, string(m.Status),
		formatTS(m.CreatedAt), nullTS(m.DeliveredAt), nullTS(m.SeenAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, m.ID)
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, messageID string, status domain.Status, at time.Time) (bool, error) {
	below := status.Below()
	if len(below) == 0 {
		return false, nil
	}
	args := []any{string(status), formatTS(at), string(status), formatTS(at), messageID}
	marks := make([]string, len(below))
	for i, st := range below {
		marks[i] = "?"
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			status = ?,
			delivered_at = COALESCE(delivered_at, ?),
			seen_at = CASE WHEN ? = 'seen' THEN COALESCE(seen_at, ?) ELSE seen_at END
		WHERE id = ? AND status IN (`+strings.Join(marks, ",")+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const messageColumns = `id, from_user, to_user, message, message_back, type, status, created_at, delivered_at, seen_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.Message, error) {
	var (
		m                   domain.Message
		status, created     string
		delivered, seenTime sql.NullString
	)
	if err := row.Scan(&m.ID, &m.From, &m.To, &m.Message, &m.MessageBack, &m.Type, &status, &created, &delivered, &seenTime); err != nil {
		return m, err
	}
	m.Status = domain.Status(status)
	var err error
	if m.CreatedAt, err = parseTS(created); err != nil {
		return m, err
	}
	if m.DeliveredAt, err = parseNullTS(delivered); err != nil {
		return m, err
	}
	if m.SeenAt, err = parseNullTS(seenTime); err != nil {
		return m, err
	}
	return m, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ? ORDER BY seq LIMIT 1`, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) FindConversation(ctx context.Context, a, b string) (*domain.Conversation, error) {
	conv := emptyConversation(a, b)
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM conversations WHERE id = ?`, conv.ConversationID,
	).Scan(&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return conv, nil
	}
	if err != nil {
		return nil, err
	}
	if conv.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY seq`, conv.ConversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

func (s *SQLiteStore) ListConversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_a, c.user_b, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.user_a = ? OR c.user_b = ?
		ORDER BY c.updated_at DESC, c.id`, user, user)
	if err != nil {
		return nil, err
	}
	out := []domain.ConversationSummary{}
	for rows.Next() {
		var (
			sum          domain.ConversationSummary
			userA, userB string
			updated      string
		)
		if err := rows.Scan(&sum.ConversationID, &userA, &userB, &updated, &sum.MessageCount); err != nil {
			rows.Close()
			return nil, err
		}
		if sum.UpdatedAt, err = parseTS(updated); err != nil {
			rows.Close()
			return nil, err
		}
		sum.Participants = []string{userA, userB}
		sum.Peer = domain.Peer(sum.Participants, user)
		out = append(out, sum)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The pool holds a single connection, so last messages are read after
	// the outer cursor is closed.
	for i := range out {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`, out[i].ConversationID)
		m, err := scanMessage(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i].LastMessage = &m
	}
	return out, nil
}

func (s *SQLiteStore) AddUnseen(ctx context.Context, recipient, sender string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO unseen_receipts (recipient, sender, message_id) VALUES (?, ?, ?)`,
			recipient, sender, id,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) unseen(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, recipient, sender string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT message_id FROM unseen_receipts WHERE recipient = ? AND sender = ? ORDER BY rowid`, recipient, sender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Unseen(ctx context.Context, recipient, sender string) ([]string, error) {
	return s.unseen(ctx, s.db, recipient, sender)
}

func (s *SQLiteStore) TakeUnseen(ctx context.Context, recipient, sender string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	out, err := s.unseen(ctx, tx, recipient, sender)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM unseen_receipts WHERE recipient = ? AND sender = ?`, recipient, sender,
	); err != nil {
		return nil, err
	}
	return out, tx.Commit()
}
