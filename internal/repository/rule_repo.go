package repository

import (
	"context"

	"mailtriage/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RuleRepository struct {
	db *pgxpool.Pool
}

func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

// List returns all rules of the user ordered by position.
func (r *RuleRepository) List(ctx context.Context, userID int) ([]model.UserRule, error) {
	return r.list(ctx, userID, false)
}

// ListActive 仅返回启用的规则
func (r *RuleRepository) ListActive(ctx context.Context, userID int) ([]model.UserRule, error) {
	return r.list(ctx, userID, true)
}

func (r *RuleRepository) list(ctx context.Context, userID int, activeOnly bool) ([]model.UserRule, error) {
	query := `
        SELECT id, user_id, name, position, active, sender_glob, subject_contains,
               is_mailing_list, has_attachment, category, priority, needs_reply, auto_handle, created_at
        FROM user_rules
        WHERE user_id = $1 AND (active OR NOT $2)
        ORDER BY position, id
    `
	rows, err := r.db.Query(ctx, query, userID, activeOnly)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.UserRule, error) {
		var (
			rule model.UserRule
			cat  *string
		)
		err := row.Scan(
			&rule.ID, &rule.UserID, &rule.Name, &rule.Position, &rule.Active, &rule.SenderGlob,
			&rule.SubjectContains, &rule.IsMailingList, &rule.HasAttachment, &cat, &rule.Priority,
			&rule.NeedsReply, &rule.AutoHandle, &rule.CreatedAt,
		)
		if cat != nil {
			c := model.Category(*cat)
			rule.Category = &c
		}
		return rule, err
	})
}

// Create 新建规则
func (r *RuleRepository) Create(ctx context.Context, rule *model.UserRule) error {
	var cat *string
	if rule.Category != nil {
		s := string(*rule.Category)
		cat = &s
	}
	query := `
        INSERT INTO user_rules (user_id, name, position, active, sender_glob, subject_contains,
                                is_mailing_list, has_attachment, category, priority, needs_reply,
                                auto_handle, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query,
		rule.UserID, rule.Name, rule.Position, rule.Active, rule.SenderGlob, rule.SubjectContains,
		rule.IsMailingList, rule.HasAttachment, cat, rule.Priority, rule.NeedsReply, rule.AutoHandle,
	).Scan(&rule.ID, &rule.CreatedAt)
}

// Delete removes a rule owned by the user.
func (r *RuleRepository) Delete(ctx context.Context, userID, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_rules WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
