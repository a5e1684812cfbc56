package repository

import (
	"context"
	"errors"
	"time"

	"mailtriage/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RunRepository struct {
	db *pgxpool.Pool
}

func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, user_id, status, trigger, fetched, classified, failed, error, started_at, completed_at`

func scanRun(row pgx.Row) (*model.Run, error) {
	var (
		run    model.Run
		status string
	)
	err := row.Scan(&run.ID, &run.UserID, &status, &run.Trigger, &run.Fetched, &run.Classified,
		&run.Failed, &run.Error, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	return &run, nil
}

// Create 新建运行记录
func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	query := `
        INSERT INTO runs (id, user_id, status, trigger, started_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.db.Exec(ctx, query, run.ID, run.UserID, string(run.Status), run.Trigger, run.StartedAt)
	return err
}

// Get 按 id 读取运行记录
func (r *RunRepository) Get(ctx context.Context, id string) (*model.Run, error) {
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return run, nil
}

// LatestRunning returns the user's newest running run, or nil when none is running.
func (r *RunRepository) LatestRunning(ctx context.Context, userID int) (*model.Run, error) {
	query := `
        SELECT ` + runColumns + `
        FROM runs
        WHERE user_id = $1 AND status = $2
        ORDER BY started_at DESC
        LIMIT 1
    `
	run, err := scanRun(r.db.QueryRow(ctx, query, userID, string(model.RunRunning)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// Complete 运行成功结束
func (r *RunRepository) Complete(ctx context.Context, id string, fetched, classified, failed int, at time.Time) error {
	query := `
        UPDATE runs
        SET status = $2, fetched = $3, classified = $4, failed = $5, completed_at = $6
        WHERE id = $1 AND status = $7
    `
	_, err := r.db.Exec(ctx, query, id, string(model.RunCompleted), fetched, classified, failed, at, string(model.RunRunning))
	return err
}

// Fail marks a running run failed with a message. Terminal runs are left as they are.
func (r *RunRepository) Fail(ctx context.Context, id, message string, at time.Time) error {
	query := `
        UPDATE runs
        SET status = $2, error = $3, completed_at = $4
        WHERE id = $1 AND status = $5
    `
	_, err := r.db.Exec(ctx, query, id, string(model.RunFailed), message, at, string(model.RunRunning))
	return err
}
