// Package user provides the user existence collaborator consumed by the
// payment services.
package user

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Repository answers whether a user exists. Payment creation refuses to
// call the gateway for unknown users.
type Repository interface {
	ExistsByID(ctx context.Context, id string) (bool, error)
}

// InMemoryRepository implements Repository with in-memory storage.
// Used for testing and development.
type InMemoryRepository struct {
	mu  sync.RWMutex
	ids map[string]bool
}

// NewInMemoryRepository creates a new in-memory user repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		ids: make(map[string]bool),
	}
}

// Add registers a user ID as existing.
func (r *InMemoryRepository) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = true
}

// ExistsByID reports whether the user ID is known.
func (r *InMemoryRepository) ExistsByID(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids[id], nil
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres-backed user repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ExistsByID reports whether a user row with the given ID exists.
func (r *PostgresRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}
