package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Session model related methods.
	CreateSession(ctx context.Context, create *Session) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) error
	DeleteSession(ctx context.Context, delete *DeleteSession) error

	// DeleteExpiredSessions removes sessions created before createdBefore
	// whose last mutation is older than updatedBefore. Returns the number
	// of sessions removed.
	DeleteExpiredSessions(ctx context.Context, createdBefore int64, updatedBefore int64) (int64, error)
}
