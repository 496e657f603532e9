package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"polly/internal/types"
)

// UserRepository provides read access to the users table. The notification
// core only needs the recipient view (ID, email, display name); the account
// service owns the full record.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given database
// connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns the recipient view for one user. Identity is resolved at
// dispatch time so email and display-name changes made after scheduling are
// always honored.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	err := r.db.QueryRow(ctx,
		`SELECT id, email, display_name FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user", err)
	}
	return &u, nil
}

// ListIDs returns all user IDs. Used for system-wide announcement fan-out.
func (r *UserRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list user IDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user ID", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating user IDs", err)
	}
	return ids, nil
}
