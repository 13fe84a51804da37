package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// UserRepository answers user-existence and display questions. Users are
// owned by an external identity service; this service only reads them.
type UserRepository interface {
	AllExist(ctx context.Context, userIDs []string) (bool, error)
	UsernamesByID(ctx context.Context, userIDs []string) (map[string]string, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// AllExist reports whether every id in userIDs names an existing user.
func (r *UserRepo) AllExist(ctx context.Context, userIDs []string) (bool, error) {
	if len(userIDs) == 0 {
		return true, nil
	}
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(DISTINCT id) FROM users WHERE id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return false, err
	}
	return count == len(dedupe(userIDs)), nil
}

// UsernamesByID returns a username lookup map for the given ids.
func (r *UserRepo) UsernamesByID(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, username FROM users WHERE id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, username string
		if err := rows.Scan(&id, &username); err != nil {
			return nil, err
		}
		names[id] = username
	}
	return names, rows.Err()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
