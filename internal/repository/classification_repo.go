package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mailtriage/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ClassificationRepository struct {
	db *pgxpool.Pool
}

func NewClassificationRepository(db *pgxpool.Pool) *ClassificationRepository {
	return &ClassificationRepository{db: db}
}

const classificationColumns = `
            c.email_id, c.user_id, c.priority, c.category, c.needs_reply, c.needs_approval,
            c.is_thread_active, c.action_items, c.deadline, c.summary, c.confidence, c.topics,
            c.sentiment, c.version, c.handled, c.thread_resolved, c.user_overridden, c.classified_at`

// Upsert writes the classification and appends a history row in one transaction.
// A classification the user has overridden is left untouched and false is returned.
func (r *ClassificationRepository) Upsert(ctx context.Context, res model.ClassificationResult, reason string) (bool, error) {
	items, err := json.Marshal(nonNilItems(res.ActionItems))
	if err != nil {
		return false, fmt.Errorf("encode action items: %w", err)
	}
	topics := res.Topics
	if topics == nil {
		topics = []string{}
	}

	query := `
        INSERT INTO classifications (
            email_id, user_id, priority, category, needs_reply, needs_approval, is_thread_active,
            action_items, deadline, summary, confidence, topics, sentiment, version, handled,
            classified_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
        ON CONFLICT (email_id) DO UPDATE SET
            priority = EXCLUDED.priority,
            category = EXCLUDED.category,
            needs_reply = EXCLUDED.needs_reply,
            needs_approval = EXCLUDED.needs_approval,
            is_thread_active = EXCLUDED.is_thread_active,
            action_items = EXCLUDED.action_items,
            deadline = EXCLUDED.deadline,
            summary = EXCLUDED.summary,
            confidence = EXCLUDED.confidence,
            topics = EXCLUDED.topics,
            sentiment = EXCLUDED.sentiment,
            version = EXCLUDED.version,
            handled = classifications.handled OR EXCLUDED.handled,
            classified_at = EXCLUDED.classified_at,
            updated_at = NOW()
        WHERE NOT classifications.user_overridden
    `
	classifiedAt := res.ClassifiedAt
	if classifiedAt.IsZero() {
		classifiedAt = time.Now()
	}

	written := false
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query,
			res.EmailID, res.UserID, res.Priority, string(res.Category), res.NeedsReply, res.NeedsApproval,
			res.IsThreadActive, items, res.Deadline, res.Summary, res.Confidence, topics, res.Sentiment,
			res.Version, res.Handled, classifiedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		written = true
		return insertHistory(ctx, tx, model.HistoryEntry{
			EmailID:    res.EmailID,
			UserID:     res.UserID,
			Priority:   res.Priority,
			Category:   res.Category,
			Confidence: res.Confidence,
			Version:    res.Version,
			Reason:     reason,
		})
	})
	if err != nil {
		return false, fmt.Errorf("upsert classification %s: %w", res.EmailID, err)
	}
	return written, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, h model.HistoryEntry) error {
	query := `
        INSERT INTO classification_history (email_id, user_id, priority, category, confidence, version, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
    `
	_, err := tx.Exec(ctx, query, h.EmailID, h.UserID, h.Priority, string(h.Category), h.Confidence, h.Version, h.Reason)
	return err
}

func nonNilItems(items []model.ActionItem) []model.ActionItem {
	if items == nil {
		return []model.ActionItem{}
	}
	return items
}

// GetByEmailIDs 批量读取分类结果
func (r *ClassificationRepository) GetByEmailIDs(ctx context.Context, userID int, ids []string) (map[string]model.ClassificationResult, error) {
	out := make(map[string]model.ClassificationResult, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `
        SELECT` + classificationColumns + `
        FROM classifications c
        WHERE c.user_id = $1 AND c.email_id = ANY($2)
    `
	rows, err := r.db.Query(ctx, query, userID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		out[c.EmailID] = c
	}
	return out, rows.Err()
}

// Get returns the classification of one email.
func (r *ClassificationRepository) Get(ctx context.Context, userID int, emailID string) (*model.ClassificationResult, error) {
	query := `
        SELECT` + classificationColumns + `
        FROM classifications c
        WHERE c.user_id = $1 AND c.email_id = $2
    `
	c, err := scanClassification(r.db.QueryRow(ctx, query, userID, emailID))
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// MarkHandled 标记已处理
func (r *ClassificationRepository) MarkHandled(ctx context.Context, userID int, emailID string) error {
	query := `
        UPDATE classifications
        SET handled = TRUE, updated_at = NOW()
        WHERE user_id = $1 AND email_id = $2
    `
	tag, err := r.db.Exec(ctx, query, userID, emailID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// 用户覆盖的行不改写
const markThreadResolvedSQL = `
        UPDATE classifications
        SET thread_resolved = TRUE, updated_at = NOW()
        WHERE user_id = $1 AND email_id = ANY($2) AND NOT thread_resolved AND NOT user_overridden
    `

// MarkThreadResolved flags older thread siblings once the thread's latest message resolves it.
func (r *ClassificationRepository) MarkThreadResolved(ctx context.Context, userID int, emailIDs []string) (int, error) {
	if len(emailIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, markThreadResolvedSQL, userID, emailIDs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListAutoActionCandidates returns unhandled, non-overridden classifications written since the given time.
func (r *ClassificationRepository) ListAutoActionCandidates(ctx context.Context, userID int, since time.Time) ([]model.ClassificationResult, error) {
	query := `
        SELECT` + classificationColumns + `
        FROM classifications c
        WHERE c.user_id = $1 AND c.classified_at >= $2 AND NOT c.handled AND NOT c.user_overridden
        ORDER BY c.classified_at DESC
    `
	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ClassificationResult, error) {
		return scanClassification(row)
	})
}

// CategoryStats counts machine classifications and user overrides per category inside the window.
func (r *ClassificationRepository) CategoryStats(ctx context.Context, userID int, since time.Time) ([]model.CategoryStats, error) {
	query := `
        SELECT h.category, COUNT(*) AS total, COALESCE(MAX(o.n), 0) AS overrides
        FROM classification_history h
        LEFT JOIN (
            SELECT from_category, COUNT(*) AS n
            FROM overrides
            WHERE user_id = $1 AND created_at >= $2
            GROUP BY from_category
        ) o ON o.from_category = h.category
        WHERE h.user_id = $1 AND h.created_at >= $2 AND h.version <> $3
        GROUP BY h.category
    `
	rows, err := r.db.Query(ctx, query, userID, since, model.VersionUser)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CategoryStats, error) {
		var (
			s   model.CategoryStats
			cat string
		)
		err := row.Scan(&cat, &s.Total, &s.Overrides)
		s.Category = model.Category(cat)
		return s, err
	})
}

// ApplyOverride stores the user's correction: the classification is rewritten and
// pinned, the override and a history row are recorded and the sender's override
// counter is bumped, all in one transaction.
func (r *ClassificationRepository) ApplyOverride(ctx context.Context, res model.ClassificationResult, o model.Override) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		update := `
            UPDATE classifications
            SET priority = $3, category = $4, needs_reply = $5, needs_approval = $6,
                version = $7, user_overridden = TRUE, updated_at = NOW()
            WHERE user_id = $1 AND email_id = $2
        `
		tag, err := tx.Exec(ctx, update, res.UserID, res.EmailID, res.Priority, string(res.Category),
			res.NeedsReply, res.NeedsApproval, model.VersionUser)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		insert := `
            INSERT INTO overrides (email_id, user_id, sender_email, subject, from_category, to_category,
                                   from_priority, to_priority, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
        `
		if _, err := tx.Exec(ctx, insert, o.EmailID, o.UserID, o.SenderEmail, o.Subject,
			string(o.FromCategory), string(o.ToCategory), o.FromPriority, o.ToPriority); err != nil {
			return err
		}

		if err := insertHistory(ctx, tx, model.HistoryEntry{
			EmailID:    res.EmailID,
			UserID:     res.UserID,
			Priority:   res.Priority,
			Category:   res.Category,
			Confidence: res.Confidence,
			Version:    model.VersionUser,
			Reason:     "user override",
		}); err != nil {
			return err
		}

		sender := `
            INSERT INTO sender_profiles (user_id, email, override_count, created_at, updated_at)
            VALUES ($1, $2, 1, NOW(), NOW())
            ON CONFLICT (user_id, email) DO UPDATE
            SET override_count = sender_profiles.override_count + 1, updated_at = NOW()
        `
		_, err = tx.Exec(ctx, sender, o.UserID, o.SenderEmail)
		return err
	})
}

// RecentOverrides returns the user's latest corrections, newest first.
func (r *ClassificationRepository) RecentOverrides(ctx context.Context, userID, limit int) ([]model.Override, error) {
	query := `
        SELECT email_id, user_id, sender_email, subject, from_category, to_category,
               from_priority, to_priority, created_at
        FROM overrides
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Override, error) {
		var (
			o        model.Override
			from, to string
		)
		err := row.Scan(&o.EmailID, &o.UserID, &o.SenderEmail, &o.Subject, &from, &to,
			&o.FromPriority, &o.ToPriority, &o.CreatedAt)
		o.FromCategory, o.ToCategory = model.Category(from), model.Category(to)
		return o, err
	})
}

func scanClassification(row pgx.Row) (model.ClassificationResult, error) {
	var (
		c     model.ClassificationResult
		cat   string
		items []byte
	)
	err := row.Scan(
		&c.EmailID, &c.UserID, &c.Priority, &cat, &c.NeedsReply, &c.NeedsApproval,
		&c.IsThreadActive, &items, &c.Deadline, &c.Summary, &c.Confidence, &c.Topics,
		&c.Sentiment, &c.Version, &c.Handled, &c.ThreadResolved, &c.UserOverridden, &c.ClassifiedAt,
	)
	if err != nil {
		return c, err
	}
	c.Category = model.Category(cat)
	if err := decodeActionItems(items, &c); err != nil {
		return c, err
	}
	return c, nil
}

func decodeActionItems(raw []byte, c *model.ClassificationResult) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &c.ActionItems); err != nil {
		return fmt.Errorf("decode action items %s: %w", c.EmailID, err)
	}
	return nil
}
