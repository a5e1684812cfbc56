package mailsource

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"mailtriage/internal/model"
	"mailtriage/pkg/config"
	"mailtriage/pkg/metrics"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

const (
	inboxMailbox   = "INBOX"
	imapFetchChunk = 50
)

// IMAPSource syncs the INBOX of an IMAP account. The cursor is "uidvalidity:lastuid".
type IMAPSource struct {
	cfg    config.MailConfig
	limits Limits
	logger *zap.Logger
	now    func() time.Time
}

func NewIMAPSource(cfg config.MailConfig, logger *zap.Logger) *IMAPSource {
	return &IMAPSource{
		cfg:    cfg,
		limits: DefaultLimits(),
		logger: logger,
		now:    time.Now,
	}
}

func (s *IMAPSource) Name() string { return model.ProviderIMAP }

// ParseIMAPCursor splits "uidvalidity:lastuid".
func ParseIMAPCursor(cursor string) (uint32, imap.UID, error) {
	v, u, ok := strings.Cut(strings.TrimSpace(cursor), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrCursorInvalid, cursor)
	}
	validity, err := strconv.ParseUint(v, 10, 32)
	if err != nil || validity == 0 {
		return 0, 0, fmt.Errorf("%w: bad uidvalidity in %q", ErrCursorInvalid, cursor)
	}
	last, err := strconv.ParseUint(u, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad uid in %q", ErrCursorInvalid, cursor)
	}
	return uint32(validity), imap.UID(last), nil
}

func FormatIMAPCursor(validity uint32, last imap.UID) string {
	return fmt.Sprintf("%d:%d", validity, uint32(last))
}

func (s *IMAPSource) connect(account *model.Account) (*imapclient.Client, error) {
	port := account.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(account.Host, strconv.Itoa(port))

	var (
		client *imapclient.Client
		err    error
	)
	if account.UseTLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connect imap %s: %w", addr, err)
	}

	username := account.Username
	if username == "" {
		username = account.Email
	}
	if err := client.Login(username, account.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login %s: %w", username, err)
	}
	return client, nil
}

// Sync fetches UIDs after the cursor, or the last WindowDays when the cursor is
// missing, malformed or belongs to an older UIDVALIDITY.
func (s *IMAPSource) Sync(ctx context.Context, account *model.Account, cursor string) (SyncResult, error) {
	client, err := s.connect(account)
	if err != nil {
		return SyncResult{}, err
	}
	// imapclient 不感知 context：取消时直接关闭连接
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()
	defer func() { _ = client.Logout().Wait() }()

	sel, err := client.Select(inboxMailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return SyncResult{}, fmt.Errorf("select %s: %w", inboxMailbox, err)
	}

	criteria, last, full := s.searchCriteria(account, cursor, sel.UIDValidity)

	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return SyncResult{}, fmt.Errorf("uid search: %w", err)
	}
	uids := selectUIDs(data.AllUIDs(), last, full, s.cfg.MaxMessages)

	result := SyncResult{FullSync: full}
	highest := last
	if full && sel.UIDNext > 0 {
		highest = sel.UIDNext - 1
	}

	for start := 0; start < len(uids); start += imapFetchChunk {
		end := min(start+imapFetchChunk, len(uids))
		emails, err := s.fetch(client, account, uids[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return SyncResult{}, ctx.Err()
			}
			return SyncResult{}, err
		}
		result.Emails = append(result.Emails, emails...)
	}
	for _, uid := range uids {
		if uid > highest {
			highest = uid
		}
	}
	result.Cursor = FormatIMAPCursor(sel.UIDValidity, highest)

	mode := "incremental"
	if full {
		mode = "window"
	}
	metrics.AddEmailsFetched(s.Name(), mode, len(result.Emails))
	return result, nil
}

func (s *IMAPSource) searchCriteria(account *model.Account, cursor string, validity uint32) (*imap.SearchCriteria, imap.UID, bool) {
	if cursor != "" {
		cv, last, err := ParseIMAPCursor(cursor)
		switch {
		case err != nil:
			s.logger.Warn("IMAP cursor unusable, falling back to window",
				zap.Int("account_id", account.ID), zap.String("cursor", cursor), zap.Error(err))
		case cv != validity:
			s.logger.Warn("UIDVALIDITY changed, falling back to window",
				zap.Int("account_id", account.ID), zap.Uint32("old", cv), zap.Uint32("new", validity))
		default:
			var set imap.UIDSet
			set.AddRange(last+1, 0)
			return &imap.SearchCriteria{UID: []imap.UIDSet{set}}, last, false
		}
	}
	since := s.now().AddDate(0, 0, -s.windowDays())
	return &imap.SearchCriteria{Since: since}, 0, true
}

func (s *IMAPSource) windowDays() int {
	if s.cfg.WindowDays > 0 {
		return s.cfg.WindowDays
	}
	return 7
}

// selectUIDs drops UIDs at or below the cursor ("n:*" always matches the newest message)
// and applies the per-sync cap: oldest first when incremental so the cursor advances
// without gaps, newest first when filling the window.
func selectUIDs(uids []imap.UID, last imap.UID, full bool, limit int) []imap.UID {
	out := make([]imap.UID, 0, len(uids))
	for _, uid := range uids {
		if uid > last {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		if full {
			out = out[len(out)-limit:]
		} else {
			out = out[:limit]
		}
	}
	return out
}

func (s *IMAPSource) fetch(client *imapclient.Client, account *model.Account, uids []imap.UID) ([]model.NormalizedEmail, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	cmd := client.Fetch(imap.UIDSetNum(uids...), opts)
	defer cmd.Close()

	var emails []model.NormalizedEmail
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			s.logger.Warn("Failed to collect IMAP message", zap.Int("account_id", account.ID), zap.Error(err))
			continue
		}
		emails = append(emails, s.normalize(account, buf, buf.FindBodySection(bodySection)))
	}
	if err := cmd.Close(); err != nil {
		return emails, fmt.Errorf("fetch messages: %w", err)
	}
	return emails, nil
}

func (s *IMAPSource) normalize(account *model.Account, buf *imapclient.FetchMessageBuffer, raw []byte) model.NormalizedEmail {
	e := envelopeEmail(buf)

	var tree *Tree
	if len(raw) > 0 {
		parsed, err := ParseMessage(raw, s.limits)
		if err != nil {
			s.logger.Warn("Failed to parse MIME body, using envelope only",
				zap.Int("account_id", account.ID), zap.Uint32("uid", uint32(buf.UID)), zap.Error(err))
		} else {
			applyHeaders(&e, parsed.Header)
			tree = parsed.Tree
			if tree.Truncated {
				s.logger.Debug("MIME tree truncated", zap.Uint32("uid", uint32(buf.UID)), zap.Int("nodes", tree.Nodes))
			}
		}
	}
	finishEmail(&e, account, tree)
	return e
}

// envelopeEmail maps the server-parsed envelope and flags.
func envelopeEmail(buf *imapclient.FetchMessageBuffer) model.NormalizedEmail {
	e := model.NormalizedEmail{
		ProviderID: strconv.FormatUint(uint64(buf.UID), 10),
		ReceivedAt: buf.InternalDate,
	}
	if env := buf.Envelope; env != nil {
		e.Subject = env.Subject
		e.MessageID = env.MessageID
		if len(env.InReplyTo) > 0 {
			e.InReplyTo = env.InReplyTo[0]
		}
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = env.Date
		}
		if len(env.From) > 0 {
			e.From = imapAddress(env.From[0])
		}
		for _, a := range env.To {
			e.To = append(e.To, imapAddress(a))
		}
		for _, a := range env.Cc {
			e.Cc = append(e.Cc, imapAddress(a))
		}
		for _, a := range env.ReplyTo {
			e.ReplyTo = append(e.ReplyTo, imapAddress(a))
		}
	}
	for _, f := range buf.Flags {
		switch f {
		case imap.FlagSeen:
			e.IsRead = true
		case imap.FlagFlagged:
			e.IsStarred = true
		}
	}
	return e
}

func imapAddress(a imap.Address) model.Address {
	return model.Address{Name: a.Name, Email: strings.ToLower(a.Addr())}
}
