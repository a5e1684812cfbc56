package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"mailtriage/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

const emailColumns = `
            e.id, e.account_id, e.user_id, e.provider_id, e.thread_id, e.message_id, e.in_reply_to,
            e.from_name, e.from_email, e.to_addrs, e.cc_addrs, e.reply_to,
            e.subject, e.snippet, e.body, e.is_html, e.received_at, e.is_read, e.is_starred,
            e.has_attachments, e.attachments, e.list_id, e.list_unsubscribe, e.precedence, e.from_user`

// InsertEmails stores newly synced mail. Emails are immutable, so a message seen
// again is ignored. Returns how many rows were new.
func (r *EmailRepository) InsertEmails(ctx context.Context, emails []model.NormalizedEmail) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	query := `
        INSERT INTO emails (
            id, account_id, user_id, provider_id, thread_id, message_id, in_reply_to,
            from_name, from_email, to_addrs, cc_addrs, reply_to,
            subject, snippet, body, is_html, received_at, is_read, is_starred,
            has_attachments, attachments, list_id, list_unsubscribe, precedence, from_user
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
                $18, $19, $20, $21, $22, $23, $24, $25)
        ON CONFLICT (account_id, provider_id) DO NOTHING
    `
	batch := &pgx.Batch{}
	for i := range emails {
		e := &emails[i]
		to, cc, replyTo, atts, err := encodeEmailJSON(e)
		if err != nil {
			return 0, fmt.Errorf("encode email %s: %w", e.ID, err)
		}
		batch.Queue(query,
			e.ID, e.AccountID, e.UserID, e.ProviderID, e.ThreadID, e.MessageID, e.InReplyTo,
			e.From.Name, e.From.Email, to, cc, replyTo,
			e.Subject, e.Snippet, e.Body, e.IsHTML, e.ReceivedAt, e.IsRead, e.IsStarred,
			e.HasAttachments, atts, e.ListID, e.ListUnsubscribe, e.Precedence, e.FromUser,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range emails {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert email: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func encodeEmailJSON(e *model.NormalizedEmail) (to, cc, replyTo, atts []byte, err error) {
	if to, err = json.Marshal(nonNilAddrs(e.To)); err != nil {
		return
	}
	if cc, err = json.Marshal(nonNilAddrs(e.Cc)); err != nil {
		return
	}
	if replyTo, err = json.Marshal(nonNilAddrs(e.ReplyTo)); err != nil {
		return
	}
	list := e.Attachments
	if list == nil {
		list = []model.Attachment{}
	}
	atts, err = json.Marshal(list)
	return
}

func nonNilAddrs(a []model.Address) []model.Address {
	if a == nil {
		return []model.Address{}
	}
	return a
}

// ListUnclassified returns the user's newest emails without a classification.
func (r *EmailRepository) ListUnclassified(ctx context.Context, userID, limit int) ([]model.NormalizedEmail, error) {
	query := `
        SELECT` + emailColumns + `
        FROM emails e
        LEFT JOIN classifications c ON c.email_id = e.id
        WHERE e.user_id = $1 AND c.email_id IS NULL AND NOT e.from_user
        ORDER BY e.received_at DESC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectEmails(rows)
}

// ListByThreads loads every message of the given threads, oldest first, keyed by thread id.
func (r *EmailRepository) ListByThreads(ctx context.Context, userID int, threadIDs []string) (map[string][]model.NormalizedEmail, error) {
	out := make(map[string][]model.NormalizedEmail, len(threadIDs))
	if len(threadIDs) == 0 {
		return out, nil
	}
	query := `
        SELECT` + emailColumns + `
        FROM emails e
        WHERE e.user_id = $1 AND e.thread_id = ANY($2)
        ORDER BY e.received_at ASC
    `
	rows, err := r.db.Query(ctx, query, userID, threadIDs)
	if err != nil {
		return nil, err
	}
	emails, err := collectEmails(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range emails {
		out[e.ThreadID] = append(out[e.ThreadID], e)
	}
	return out, nil
}

// FindByID returns one email of the user.
func (r *EmailRepository) FindByID(ctx context.Context, userID int, id string) (*model.NormalizedEmail, error) {
	query := `
        SELECT` + emailColumns + `
        FROM emails e
        WHERE e.user_id = $1 AND e.id = $2
    `
	rows, err := r.db.Query(ctx, query, userID, id)
	if err != nil {
		return nil, err
	}
	emails, err := collectEmails(rows)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, ErrNotFound
	}
	return &emails[0], nil
}

func collectEmails(rows pgx.Rows) ([]model.NormalizedEmail, error) {
	defer rows.Close()

	emails := []model.NormalizedEmail{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func scanEmail(row pgx.Row, extra ...any) (model.NormalizedEmail, error) {
	var (
		e                        model.NormalizedEmail
		to, cc, replyTo, attsRaw []byte
	)
	dest := []any{
		&e.ID, &e.AccountID, &e.UserID, &e.ProviderID, &e.ThreadID, &e.MessageID, &e.InReplyTo,
		&e.From.Name, &e.From.Email, &to, &cc, &replyTo,
		&e.Subject, &e.Snippet, &e.Body, &e.IsHTML, &e.ReceivedAt, &e.IsRead, &e.IsStarred,
		&e.HasAttachments, &attsRaw, &e.ListID, &e.ListUnsubscribe, &e.Precedence, &e.FromUser,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return e, err
	}
	for _, f := range []struct {
		raw []byte
		out any
	}{{to, &e.To}, {cc, &e.Cc}, {replyTo, &e.ReplyTo}, {attsRaw, &e.Attachments}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.out); err != nil {
			return e, fmt.Errorf("decode email %s: %w", e.ID, err)
		}
	}
	return e, nil
}
