package session

import (
	"context"
	"time"
)

// Default lifetimes for the two cross-turn caches.
const (
	DefaultPendingTTL  = 10 * time.Minute
	DefaultDocumentTTL = time.Hour

	sweepInterval = time.Minute
)

// ExtractedDocument is the cached result of document extraction for a
// session, reusable across turns until expiry.
type ExtractedDocument struct {
	Text       string
	PageImages []string
}

// Store bundles the two ephemeral caches. One process-wide instance is
// created at startup and passed to the stages that need it; it is the only
// state shared across concurrent turns.
type Store struct {
	// Pending maps session ID to the original user message that triggered an
	// unclear safety classification. Consumed on read by the next turn.
	Pending *Cache[string]
	// Documents maps session ID to the most recent extraction result. Read,
	// not consumed, by turns arriving without new attachments.
	Documents *Cache[ExtractedDocument]
}

// NewStore creates the session store with the given TTLs.
func NewStore(pendingTTL, documentTTL time.Duration) *Store {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	if documentTTL <= 0 {
		documentTTL = DefaultDocumentTTL
	}
	return &Store{
		Pending:   NewCache[string](pendingTTL),
		Documents: NewCache[ExtractedDocument](documentTTL),
	}
}

// StartSweepers launches the background TTL sweepers for both caches.
func (s *Store) StartSweepers(ctx context.Context) {
	s.Pending.StartSweeper(ctx, sweepInterval, "pending_confirmation")
	s.Documents.StartSweeper(ctx, sweepInterval, "document_cache")
}
