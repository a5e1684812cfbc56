package repository

import (
	"context"

	"mailtriage/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InboxFilter narrows the read model query.
type InboxFilter struct {
	Category       model.Category
	IncludeHandled bool
	Limit          int
}

// InboxRow 邮件 + 分类 + 发件人画像
type InboxRow struct {
	Email          model.NormalizedEmail
	Classification model.ClassificationResult
	Sender         *model.SenderProfile
}

type InboxRepository struct {
	db *pgxpool.Pool
}

func NewInboxRepository(db *pgxpool.Pool) *InboxRepository {
	return &InboxRepository{db: db}
}

// List joins stored classifications with their email and, when present, the sender profile.
func (r *InboxRepository) List(ctx context.Context, userID int, f InboxFilter) ([]InboxRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `
        SELECT` + emailColumns + `,` + classificationColumns + `,
            s.email IS NOT NULL, COALESCE(s.total_emails, 0), COALESCE(s.recent_count, 0),
            COALESCE(s.relationship, ''), COALESCE(s.is_vip, FALSE), s.avg_response_days,
            COALESCE(s.created_at, NOW())
        FROM classifications c
        JOIN emails e ON e.id = c.email_id
        LEFT JOIN sender_profiles s ON s.user_id = c.user_id AND s.email = e.from_email
        WHERE c.user_id = $1
          AND ($2 = '' OR c.category = $2)
          AND ($3 OR NOT c.handled)
        ORDER BY e.received_at DESC
        LIMIT $4
    `
	rows, err := r.db.Query(ctx, query, userID, string(f.Category), f.IncludeHandled, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (InboxRow, error) {
		var (
			out       InboxRow
			hasSender bool
			sender    model.SenderProfile
			rel       string
			cat       string
			items     []byte
		)
		c := &out.Classification
		e, err := scanEmail(row,
			&c.EmailID, &c.UserID, &c.Priority, &cat, &c.NeedsReply, &c.NeedsApproval,
			&c.IsThreadActive, &items, &c.Deadline, &c.Summary, &c.Confidence, &c.Topics,
			&c.Sentiment, &c.Version, &c.Handled, &c.ThreadResolved, &c.UserOverridden, &c.ClassifiedAt,
			&hasSender, &sender.TotalEmails, &sender.RecentCount, &rel, &sender.IsVIP,
			&sender.AvgResponseDays, &sender.CreatedAt,
		)
		if err != nil {
			return out, err
		}
		out.Email = e
		c.Category = model.Category(cat)
		if err := decodeActionItems(items, c); err != nil {
			return out, err
		}
		if hasSender {
			sender.UserID = userID
			sender.Email = e.From.Email
			sender.Relationship = model.Relationship(rel)
			out.Sender = &sender
		}
		return out, nil
	})
}
