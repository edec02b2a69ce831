package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/policy"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - pre-migration
// 1 - initial messages table
const currentSchemaVersion = 1

// Publisher receives every committed write as a channel event. The push
// hub implements it; a nil publisher disables fan-out.
type Publisher interface {
	Publish(chat.Event)
}

// Store is the durable message log backed by SQLite. It is the
// authority for confirmed ids and for server-side delete policy; the
// client-side policy check is advisory only.
//
// Uses WAL mode for concurrent read access.
type Store struct {
	db  *sqlx.DB
	pub Publisher
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher fans committed writes out as channel events.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.pub = p }
}

// WithNow replaces the wall clock used for the delete grace window.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens a SQLite database at the given path. Applies
// required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// messageRow is the messages table record. Timestamps are stored as
// Unix nanoseconds.
type messageRow struct {
	ID             int64  `db:"id"`
	ConversationID string `db:"conversation_id"`
	AuthorID       string `db:"author_id"`
	Text           string `db:"text"`
	AttachmentURL  string `db:"attachment_url"`
	ReplyToID      string `db:"reply_to_id"`
	AuthoredAt     int64  `db:"authored_at"`
	Deleted        bool   `db:"deleted"`
}

func (r messageRow) toMessage() chat.Message {
	m := chat.Message{
		ID:             chat.ConfirmedID(strconv.FormatInt(r.ID, 10)),
		ConversationID: r.ConversationID,
		AuthorID:       r.AuthorID,
		AuthoredAt:     time.Unix(0, r.AuthoredAt).UTC(),
		Text:           r.Text,
		DeliveryStatus: chat.DeliveryConfirmed,
		Visibility:     chat.VisibilityVisible,
	}
	if r.AttachmentURL != "" {
		m.Attachment = &chat.Attachment{URL: r.AttachmentURL}
	}
	if r.ReplyToID != "" {
		m.ReplyTo = &chat.ReplySnapshot{ID: chat.ConfirmedID(r.ReplyToID)}
	}
	if r.Deleted {
		m.ApplyTombstone()
	}
	return m
}

// Create commits one message and assigns its confirmed id. The client's
// authoredAt and text are stored verbatim; the committed row is
// broadcast to every subscriber, the author's own device included.
func (s *Store) Create(ctx context.Context, req backend.CreateRequest) (backend.CreateResult, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
		(conversation_id, author_id, text, attachment_url, reply_to_id, authored_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		req.ConversationID,
		req.AuthorID,
		req.Text,
		req.AttachmentURL,
		req.ReplyToID,
		req.AuthoredAt.UnixNano(),
	)
	if err != nil {
		return backend.CreateResult{}, fmt.Errorf("create message: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return backend.CreateResult{}, fmt.Errorf("create message: %w", err)
	}

	id := strconv.FormatInt(rowID, 10)
	if s.pub != nil {
		s.pub.Publish(chat.Event{Type: chat.EventTypeCreate, Create: &chat.CreateEvent{
			ConversationID: req.ConversationID,
			ID:             id,
			AuthorID:       req.AuthorID,
			Text:           req.Text,
			AttachmentURL:  req.AttachmentURL,
			ReplyToID:      req.ReplyToID,
			AuthoredAt:     req.AuthoredAt,
		}})
	}
	return backend.CreateResult{ID: id, AuthoredAt: req.AuthoredAt}, nil
}

// Tombstone marks a message deleted for every viewer. Authorship and
// the grace window are enforced here regardless of what the client
// already checked. Tombstoning an already-deleted message is a no-op.
func (s *Store) Tombstone(ctx context.Context, conversationID, id, authorID string) error {
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return chat.NewError(chat.ErrCodeNotFound, fmt.Sprintf("malformed message id %q", id))
	}

	var row messageRow
	err = s.db.GetContext(ctx, &row, `
		SELECT id, conversation_id, author_id, text, attachment_url, reply_to_id, authored_at, deleted
		FROM messages
		WHERE id = ? AND conversation_id = ?
	`, rowID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.NewError(chat.ErrCodeNotFound, "no such message")
	}
	if err != nil {
		return fmt.Errorf("tombstone lookup: %w", err)
	}

	if row.AuthorID != authorID {
		return chat.NewError(chat.ErrCodeAuthorization, "not the author")
	}
	authoredAt := time.Unix(0, row.AuthoredAt)
	if s.now().Sub(authoredAt) > policy.GraceWindow {
		return chat.NewError(chat.ErrCodeAuthorization, "grace window expired")
	}
	if row.Deleted {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE messages SET deleted = 1 WHERE id = ?
	`, rowID); err != nil {
		return fmt.Errorf("tombstone message: %w", err)
	}

	if s.pub != nil {
		s.pub.Publish(chat.Event{Type: chat.EventTypeUpdate, Update: &chat.UpdateEvent{
			ConversationID: conversationID,
			ID:             id,
			Deleted:        true,
		}})
	}
	return nil
}

// History returns the conversation's full message log, tombstones
// included, ordered by authored time then id.
func (s *Store) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, conversation_id, author_id, text, attachment_url, reply_to_id, authored_at, deleted
		FROM messages
		WHERE conversation_id = ?
		ORDER BY authored_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	out := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMessage())
	}
	return out, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and stamps the schema
// version. Idempotent.
func applySchema(db *sqlx.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}
