package repository

import (
	"context"
	"strings"

	"mailtriage/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SenderRepository struct {
	db *pgxpool.Pool
}

func NewSenderRepository(db *pgxpool.Pool) *SenderRepository {
	return &SenderRepository{db: db}
}

const senderColumns = `
            s.user_id, s.email, s.display_name, s.total_emails, s.recent_count, s.recent_since,
            s.last_seen_at, s.replied_count, s.relationship, s.relationship_manual, s.is_vip,
            s.vip_reason, s.override_count, s.avg_response_days, s.topics, s.created_at, s.updated_at`

// GetByEmails loads the profiles that exist for the given addresses, keyed by lowercased address.
func (r *SenderRepository) GetByEmails(ctx context.Context, userID int, emails []string) (map[string]*model.SenderProfile, error) {
	out := make(map[string]*model.SenderProfile, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(e)
	}
	query := `
        SELECT` + senderColumns + `
        FROM sender_profiles s
        WHERE s.user_id = $1 AND s.email = ANY($2)
    `
	rows, err := r.db.Query(ctx, query, userID, lowered)
	if err != nil {
		return nil, err
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.SenderProfile, error) {
		return scanSender(row)
	})
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.Email] = p
	}
	return out, nil
}

// Save 创建或整体更新发件人画像
func (r *SenderRepository) Save(ctx context.Context, p *model.SenderProfile) error {
	topics := p.Topics
	if topics == nil {
		topics = []string{}
	}
	query := `
        INSERT INTO sender_profiles (
            user_id, email, display_name, total_emails, recent_count, recent_since, last_seen_at,
            replied_count, relationship, relationship_manual, is_vip, vip_reason, override_count,
            avg_response_days, topics, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
        ON CONFLICT (user_id, email) DO UPDATE SET
            display_name = EXCLUDED.display_name,
            total_emails = EXCLUDED.total_emails,
            recent_count = EXCLUDED.recent_count,
            recent_since = EXCLUDED.recent_since,
            last_seen_at = EXCLUDED.last_seen_at,
            replied_count = EXCLUDED.replied_count,
            relationship = CASE WHEN sender_profiles.relationship_manual
                                THEN sender_profiles.relationship ELSE EXCLUDED.relationship END,
            avg_response_days = EXCLUDED.avg_response_days,
            topics = EXCLUDED.topics,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		p.UserID, strings.ToLower(p.Email), p.DisplayName, p.TotalEmails, p.RecentCount, p.RecentSince,
		p.LastSeenAt, p.RepliedCount, string(p.Relationship), p.RelationshipManual, p.IsVIP, p.VIPReason,
		p.OverrideCount, p.AvgResponseDays, topics,
	)
	return err
}

func scanSender(row pgx.Row) (*model.SenderProfile, error) {
	var (
		p   model.SenderProfile
		rel string
	)
	err := row.Scan(
		&p.UserID, &p.Email, &p.DisplayName, &p.TotalEmails, &p.RecentCount, &p.RecentSince,
		&p.LastSeenAt, &p.RepliedCount, &rel, &p.RelationshipManual, &p.IsVIP,
		&p.VIPReason, &p.OverrideCount, &p.AvgResponseDays, &p.Topics, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Relationship = model.Relationship(rel)
	return &p, nil
}
