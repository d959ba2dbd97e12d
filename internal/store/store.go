// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/grogi/agent-server/internal/domain"
)

// Repository defines the interface for persisting conversation data.
type Repository interface {
	// EnsureSession creates the session row if it does not exist and
	// refreshes its updated_at timestamp if it does.
	EnsureSession(ctx context.Context, sessionID, userID, category string) error

	// GetSession retrieves a session by id, or nil if absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SetSessionTitle stores the generated title for a session.
	SetSessionTitle(ctx context.Context, sessionID, title string) error

	// AppendMessage persists one chat message and returns its id.
	AppendMessage(ctx context.Context, msg *domain.Message) (string, error)

	// History returns the most recent messages of a session in
	// chronological order, capped at limit.
	History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// SaveShareCard persists the share card attached to a message.
	SaveShareCard(ctx context.Context, card *domain.StoredShareCard) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
