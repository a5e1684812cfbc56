package mailsource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"mailtriage/internal/content"
	"mailtriage/internal/model"
	"mailtriage/pkg/config"

	"go.uber.org/zap"
)

var (
	// ErrCursorInvalid 游标无法使用（格式错误、UIDVALIDITY 变化、history 过期）
	ErrCursorInvalid = errors.New("mailsource: cursor invalid")
	// ErrUnsupportedProvider 未知的邮箱提供方
	ErrUnsupportedProvider = errors.New("mailsource: unsupported provider")
)

const snippetRunes = 200

// SyncResult 一次同步的结果
type SyncResult struct {
	Emails []model.NormalizedEmail
	// Cursor is opaque to callers and must be persisted for the next incremental sync.
	Cursor string
	// FullSync is true when the source fell back to the bounded window.
	FullSync bool
}

// Source fetches new mail for one account since the given cursor.
// An empty or unusable cursor makes the source fall back to its bounded window.
type Source interface {
	Name() string
	Sync(ctx context.Context, account *model.Account, cursor string) (SyncResult, error)
}

// NewSource 根据账户类型创建邮件源
func NewSource(account *model.Account, cfg config.MailConfig, logger *zap.Logger) (Source, error) {
	switch strings.ToLower(account.Provider) {
	case model.ProviderIMAP:
		return NewIMAPSource(cfg, logger), nil
	case model.ProviderGmail:
		return NewGmailSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, account.Provider)
	}
}

// finishEmail fills the fields every source derives the same way.
func finishEmail(e *model.NormalizedEmail, account *model.Account, tree *Tree) {
	e.ID = model.EmailIDFor(account.ID, e.ProviderID)
	e.AccountID = account.ID
	e.UserID = account.UserID

	if tree != nil {
		e.Body, e.IsHTML = tree.Body()
		e.Attachments = tree.Attachments()
		e.HasAttachments = len(e.Attachments) > 0
	}
	if e.Snippet == "" {
		text := e.Body
		if e.IsHTML {
			text = content.HTMLToPlainText(text)
		}
		e.Snippet = snippet(text)
	}
	if e.ThreadID == "" {
		e.ThreadID = e.MessageID
	}
	if e.ThreadID == "" {
		e.ThreadID = e.ProviderID
	}
	if account.Email != "" && strings.EqualFold(e.From.Email, account.Email) {
		e.FromUser = true
	}
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	r := []rune(text)
	return string(r[:snippetRunes])
}
