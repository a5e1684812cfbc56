package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var emailNamespace = uuid.MustParse("6f1c2a9e-3b7d-4c51-9a0e-2d8f7b4e1c63")

// EmailIDFor derives the stable email id from the account and the provider's message id,
// so re-syncing the same message always upserts the same row.
func EmailIDFor(accountID int, providerID string) string {
	return uuid.NewSHA1(emailNamespace, []byte(strconv.Itoa(accountID)+"/"+providerID)).String()
}

// Address 邮件地址
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Domain returns the lowercased part after '@'.
func (a Address) Domain() string {
	i := strings.LastIndexByte(a.Email, '@')
	if i < 0 {
		return ""
	}
	return strings.ToLower(a.Email[i+1:])
}

// Attachment 附件元数据（不保存内容）
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// NormalizedEmail is the provider-agnostic message produced by a mail source.
// It is immutable once stored.
type NormalizedEmail struct {
	ID         string
	AccountID  int
	UserID     int
	ProviderID string
	ThreadID   string
	MessageID  string
	InReplyTo  string

	From    Address
	To      []Address
	Cc      []Address
	ReplyTo []Address

	Subject string
	Snippet string
	Body    string
	IsHTML  bool

	ReceivedAt time.Time
	IsRead     bool
	IsStarred  bool

	HasAttachments bool
	Attachments    []Attachment

	// mailing-list markers
	ListID          string
	ListUnsubscribe string
	Precedence      string

	// FromUser marks mail sent by the account owner (sent folder / thread replies).
	FromUser bool
}

// IsMailingList reports whether list headers or bulk precedence are present.
func (e *NormalizedEmail) IsMailingList() bool {
	if e.ListID != "" || e.ListUnsubscribe != "" {
		return true
	}
	p := strings.ToLower(e.Precedence)
	return p == "bulk" || p == "list" || p == "junk"
}

// RecipientCount To + Cc 人数
func (e *NormalizedEmail) RecipientCount() int {
	return len(e.To) + len(e.Cc)
}

// IsAddressedTo reports whether addr appears in To (not Cc).
func (e *NormalizedEmail) IsAddressedTo(addr string) bool {
	for _, to := range e.To {
		if strings.EqualFold(to.Email, addr) {
			return true
		}
	}
	return false
}

// 邮箱提供方
const (
	ProviderIMAP  = "imap"
	ProviderGmail = "gmail"
)

// Account 邮箱账户
type Account struct {
	ID       int
	UserID   int
	Provider string // imap, gmail
	Email    string
	Active   bool

	// IMAP
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool

	// Gmail OAuth
	AccessToken  string
	RefreshToken string

	Cursor       string
	LastSyncedAt *time.Time
}
