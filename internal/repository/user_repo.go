package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureUser returns the id of the user with this email, creating it when absent.
func (r *UserRepository) EnsureUser(ctx context.Context, email string) (int, error) {
	query := `
        INSERT INTO users (email, created_at)
        VALUES ($1, NOW())
        ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
        RETURNING id
    `
	var id int
	err := r.db.QueryRow(ctx, query, email).Scan(&id)
	return id, err
}

// ListWithActiveAccounts returns users that have at least one active mail account.
func (r *UserRepository) ListWithActiveAccounts(ctx context.Context) ([]int, error) {
	query := `
        SELECT DISTINCT user_id
        FROM accounts
        WHERE active
        ORDER BY user_id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}
