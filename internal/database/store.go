package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetOwner returns the recorded owner identity, or "" when none
	// has been set yet.
	GetOwner(ctx context.Context) (string, error)

	// SetOwner records the owner identity, replacing any previous one.
	SetOwner(ctx context.Context, identity string) error

	// ListGrants returns all command grants grouped by identity.
	ListGrants(ctx context.Context) (map[string][]string, error)

	// AddGrant records a (identity, command) grant. Inserting an
	// existing grant is a no-op.
	AddGrant(ctx context.Context, identity, command string) error

	// RemoveGrant removes one (identity, command) grant.
	RemoveGrant(ctx context.Context, identity, command string) error

	// ListGameSessions returns the serialized state of every active
	// game session keyed by conversation id.
	ListGameSessions(ctx context.Context) (map[string]string, error)

	// SaveGameSession upserts the serialized state of a conversation's
	// active session.
	SaveGameSession(ctx context.Context, conversationID, state string) error

	// DeleteGameSession removes a conversation's active session row.
	DeleteGameSession(ctx context.Context, conversationID string) error

	// AppendGameHistory records a finished game session.
	AppendGameHistory(ctx context.Context, h *GameHistory) error

	// GetMediaObject returns metadata for a stored blob, or nil when
	// no object with that hash exists.
	GetMediaObject(ctx context.Context, hash string) (*MediaObject, error)

	// InsertMediaObject records metadata for a newly stored blob.
	InsertMediaObject(ctx context.Context, obj *MediaObject) error

	// AddMediaRef records a back-reference from a message to a stored blob.
	AddMediaRef(ctx context.Context, hash, messageID, conversationID string) error

	// CountMediaRefs returns the number of back-references to a blob.
	CountMediaRefs(ctx context.Context, hash string) (int, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

const ownerStateKey = "owner"

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetOwner(ctx context.Context) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM bot_state WHERE key = ?;`, ownerStateKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read owner: %w", err)
	}
	return value, nil
}

func (s *sqlxStore) SetOwner(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("owner identity cannot be empty")
	}

	query := `
        INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
    `
	if _, err := s.db.ExecContext(ctx, query, ownerStateKey, identity, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error persisting owner", "error", err)
		return fmt.Errorf("failed to persist owner: %w", err)
	}

	s.logger.DebugContext(ctx, "Owner persisted", "identity", identity)
	return nil
}

func (s *sqlxStore) ListGrants(ctx context.Context) (map[string][]string, error) {
	var rows []Grant
	query := `SELECT identity, command, created_at FROM command_grants ORDER BY identity, command;`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}

	grants := make(map[string][]string, len(rows))
	for _, row := range rows {
		grants[row.Identity] = append(grants[row.Identity], row.Command)
	}
	return grants, nil
}

func (s *sqlxStore) AddGrant(ctx context.Context, identity, command string) error {
	if identity == "" || command == "" {
		return fmt.Errorf("grant requires a non-empty identity and command")
	}

	query := `
        INSERT INTO command_grants (identity, command, created_at) VALUES (?, ?, ?)
        ON CONFLICT (identity, command) DO NOTHING;
    `
	if _, err := s.db.ExecContext(ctx, query, identity, command, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error persisting grant", "identity", identity, "command", command, "error", err)
		return fmt.Errorf("failed to persist grant (%s, %s): %w", identity, command, err)
	}
	return nil
}

func (s *sqlxStore) RemoveGrant(ctx context.Context, identity, command string) error {
	query := `DELETE FROM command_grants WHERE identity = ? AND command = ?;`
	if _, err := s.db.ExecContext(ctx, query, identity, command); err != nil {
		s.logger.ErrorContext(ctx, "Error removing grant", "identity", identity, "command", command, "error", err)
		return fmt.Errorf("failed to remove grant (%s, %s): %w", identity, command, err)
	}
	return nil
}

func (s *sqlxStore) ListGameSessions(ctx context.Context) (map[string]string, error) {
	var rows []GameSessionRow
	query := `SELECT conversation_id, state, updated_at FROM game_sessions;`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list game sessions: %w", err)
	}

	sessions := make(map[string]string, len(rows))
	for _, row := range rows {
		sessions[row.ConversationID] = row.State
	}
	return sessions, nil
}

func (s *sqlxStore) SaveGameSession(ctx context.Context, conversationID, state string) error {
	if conversationID == "" {
		return fmt.Errorf("game session requires a conversation id")
	}

	query := `
        INSERT INTO game_sessions (conversation_id, state, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (conversation_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at;
    `
	if _, err := s.db.ExecContext(ctx, query, conversationID, state, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error persisting game session", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("failed to persist game session (%s): %w", conversationID, err)
	}
	return nil
}

func (s *sqlxStore) DeleteGameSession(ctx context.Context, conversationID string) error {
	query := `DELETE FROM game_sessions WHERE conversation_id = ?;`
	if _, err := s.db.ExecContext(ctx, query, conversationID); err != nil {
		s.logger.ErrorContext(ctx, "Error deleting game session", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("failed to delete game session (%s): %w", conversationID, err)
	}
	return nil
}

func (s *sqlxStore) AppendGameHistory(ctx context.Context, h *GameHistory) error {
	if h == nil {
		return fmt.Errorf("cannot append nil game history")
	}

	query := `
        INSERT INTO game_history (id, conversation_id, kind, status, players, started_at, ended_at)
        VALUES (:id, :conversation_id, :kind, :status, :players, :started_at, :ended_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, h); err != nil {
		s.logger.ErrorContext(ctx, "Error appending game history", "conversation_id", h.ConversationID, "error", err)
		return fmt.Errorf("failed to append game history (%s): %w", h.ConversationID, err)
	}
	return nil
}

func (s *sqlxStore) GetMediaObject(ctx context.Context, hash string) (*MediaObject, error) {
	var obj MediaObject
	query := `SELECT hash, category, mime_type, size_bytes, path, created_at FROM media_objects WHERE hash = ?;`
	if err := s.db.GetContext(ctx, &obj, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read media object (%s): %w", hash, err)
	}
	return &obj, nil
}

func (s *sqlxStore) InsertMediaObject(ctx context.Context, obj *MediaObject) error {
	if obj == nil {
		return fmt.Errorf("cannot insert nil media object")
	}
	if obj.Hash == "" {
		return fmt.Errorf("media object requires a content hash")
	}

	obj.CreatedAt = time.Now().UTC()
	query := `
        INSERT INTO media_objects (hash, category, mime_type, size_bytes, path, created_at)
        VALUES (:hash, :category, :mime_type, :size_bytes, :path, :created_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, obj); err != nil {
		s.logger.ErrorContext(ctx, "Error inserting media object", "hash", obj.Hash, "error", err)
		return fmt.Errorf("failed to insert media object (%s): %w", obj.Hash, err)
	}
	return nil
}

func (s *sqlxStore) AddMediaRef(ctx context.Context, hash, messageID, conversationID string) error {
	query := `
        INSERT INTO media_refs (hash, message_id, conversation_id, created_at)
        VALUES (?, ?, ?, ?);
    `
	if _, err := s.db.ExecContext(ctx, query, hash, messageID, conversationID, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error adding media ref", "hash", hash, "message_id", messageID, "error", err)
		return fmt.Errorf("failed to add media ref (%s): %w", hash, err)
	}
	return nil
}

func (s *sqlxStore) CountMediaRefs(ctx context.Context, hash string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM media_refs WHERE hash = ?;`
	if err := s.db.GetContext(ctx, &count, query, hash); err != nil {
		return 0, fmt.Errorf("failed to count media refs (%s): %w", hash, err)
	}
	return count, nil
}

// RunSQLMaintenance performs database maintenance (VACUUM and ANALYZE).
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	startTime := time.Now()

	if _, err := s.db.ExecContext(ctx, `VACUUM;`); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE;`); err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}

	s.logger.InfoContext(ctx, "SQL maintenance completed", "duration", time.Since(startTime))
	return nil
}
