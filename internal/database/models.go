package database

import (
	"time"
)

// Grant represents one standing permission for a non-owner identity
// to invoke one named command.
type Grant struct {
	Identity  string    `db:"identity"`
	Command   string    `db:"command"`
	CreatedAt time.Time `db:"created_at"`
}

// GameSessionRow stores the serialized state of an active game
// session, keyed by conversation id. State is the JSON encoding of
// the session produced by the game package.
type GameSessionRow struct {
	ConversationID string    `db:"conversation_id"`
	State          string    `db:"state"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// GameHistory records a finished game session.
type GameHistory struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Kind           string    `db:"kind"`
	Status         string    `db:"status"`
	Players        string    `db:"players"` // JSON array of canonical identities
	StartedAt      time.Time `db:"started_at"`
	EndedAt        time.Time `db:"ended_at"`
}

// MediaObject is the metadata for one content-addressed stored blob.
// Hash is the hex BLAKE3 digest of the raw bytes and the primary key;
// identical uploads collapse onto one row.
type MediaObject struct {
	Hash      string    `db:"hash"`
	Category  string    `db:"category"`
	MimeType  string    `db:"mime_type"`
	SizeBytes int64     `db:"size_bytes"`
	Path      string    `db:"path"`
	CreatedAt time.Time `db:"created_at"`
}

// MediaRef is one back-reference from an archived message to a stored
// media object. Two uploads of the same bytes yield one MediaObject
// and two MediaRefs.
type MediaRef struct {
	ID             int64     `db:"id"`
	Hash           string    `db:"hash"`
	MessageID      string    `db:"message_id"`
	ConversationID string    `db:"conversation_id"`
	CreatedAt      time.Time `db:"created_at"`
}
