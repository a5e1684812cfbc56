package repository

import (
	"context"
	"fmt"
	"time"

	"mailtriage/internal/model"
	"mailtriage/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	db  *pgxpool.Pool
	box *util.CredentialBox
}

// NewAccountRepository 账户仓库；box 为 nil 时凭据明文存储
func NewAccountRepository(db *pgxpool.Pool, box *util.CredentialBox) *AccountRepository {
	return &AccountRepository{db: db, box: box}
}

// Create inserts a mail account and sets its id. Secrets are sealed before they are written.
func (r *AccountRepository) Create(ctx context.Context, a *model.Account) error {
	var secrets [3]string
	for i, v := range []string{a.Password, a.AccessToken, a.RefreshToken} {
		sealed, err := r.box.Seal(v)
		if err != nil {
			return fmt.Errorf("seal credentials: %w", err)
		}
		secrets[i] = sealed
	}
	query := `
        INSERT INTO accounts (user_id, provider, email, active, host, port, username, password,
                              use_tls, access_token, refresh_token)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	return r.db.QueryRow(ctx, query,
		a.UserID, a.Provider, a.Email, a.Active, a.Host, a.Port, a.Username, secrets[0],
		a.UseTLS, secrets[1], secrets[2],
	).Scan(&a.ID)
}

// ListActive returns the user's active accounts with their sync cursors.
func (r *AccountRepository) ListActive(ctx context.Context, userID int) ([]model.Account, error) {
	query := `
        SELECT id, user_id, provider, email, active, host, port, username, password, use_tls,
               access_token, refresh_token, sync_cursor, last_synced_at
        FROM accounts
        WHERE user_id = $1 AND active
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Account, error) {
		var a model.Account
		err := row.Scan(
			&a.ID, &a.UserID, &a.Provider, &a.Email, &a.Active, &a.Host, &a.Port, &a.Username,
			&a.Password, &a.UseTLS, &a.AccessToken, &a.RefreshToken, &a.Cursor, &a.LastSyncedAt,
		)
		if err != nil {
			return a, err
		}
		for _, f := range []*string{&a.Password, &a.AccessToken, &a.RefreshToken} {
			if *f, err = r.box.Open(*f); err != nil {
				return a, fmt.Errorf("account %d: %w", a.ID, err)
			}
		}
		return a, nil
	})
}

// SaveCursor persists the cursor returned by the last successful sync.
func (r *AccountRepository) SaveCursor(ctx context.Context, accountID int, cursor string, syncedAt time.Time) error {
	query := `
        UPDATE accounts
        SET sync_cursor = $1, last_synced_at = $2
        WHERE id = $3
    `
	_, err := r.db.Exec(ctx, query, cursor, syncedAt, accountID)
	return err
}
