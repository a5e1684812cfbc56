package mailsource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailtriage/internal/model"
	"mailtriage/pkg/config"
	"mailtriage/pkg/metrics"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
	xhtml "golang.org/x/net/html"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const gmailUser = "me"

// GmailSource syncs a Gmail account through the REST API. The cursor is the mailbox historyId.
type GmailSource struct {
	cfg    config.MailConfig
	limits Limits
	logger *zap.Logger

	// newService 可在测试中替换
	newService func(ctx context.Context, account *model.Account) (*gmail.Service, error)
}

func NewGmailSource(cfg config.MailConfig, logger *zap.Logger) *GmailSource {
	s := &GmailSource{cfg: cfg, limits: DefaultLimits(), logger: logger}
	s.newService = s.oauthService
	return s
}

func (s *GmailSource) Name() string { return model.ProviderGmail }

func (s *GmailSource) oauthService(ctx context.Context, account *model.Account) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		TokenType:    "Bearer",
	}
	// 有 refresh token 时强制刷新
	if account.RefreshToken != "" {
		token.Expiry = time.Now()
	}
	oc := &oauth2.Config{
		ClientID:     s.cfg.OAuthClientID,
		ClientSecret: s.cfg.OAuthClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
	client := oauth2.NewClient(ctx, oc.TokenSource(ctx, token))

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return srv, nil
}

// Sync uses history.list from the stored historyId; an empty cursor or an
// expired history (HTTP 404) falls back to messages.list over the window.
func (s *GmailSource) Sync(ctx context.Context, account *model.Account, cursor string) (SyncResult, error) {
	srv, err := s.newService(ctx, account)
	if err != nil {
		return SyncResult{}, err
	}

	if cursor != "" {
		start, perr := strconv.ParseUint(strings.TrimSpace(cursor), 10, 64)
		if perr == nil {
			res, err := s.incremental(ctx, srv, account, start)
			if err == nil {
				return res, nil
			}
			if !errors.Is(err, ErrCursorInvalid) {
				return SyncResult{}, err
			}
			s.logger.Warn("Gmail history expired, falling back to window",
				zap.Int("account_id", account.ID), zap.String("cursor", cursor))
		} else {
			s.logger.Warn("Gmail cursor unusable, falling back to window",
				zap.Int("account_id", account.ID), zap.String("cursor", cursor))
		}
	}
	return s.window(ctx, srv, account)
}

func (s *GmailSource) incremental(ctx context.Context, srv *gmail.Service, account *model.Account, start uint64) (SyncResult, error) {
	var (
		ids       []string
		seen      = make(map[string]bool)
		historyID = start
		pageToken string
	)
	for {
		call := srv.Users.History.List(gmailUser).
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			if isNotFound(err) {
				return SyncResult{}, fmt.Errorf("%w: history %d: %v", ErrCursorInvalid, start, err)
			}
			return SyncResult{}, fmt.Errorf("list gmail history: %w", err)
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				ids = append(ids, added.Message.Id)
			}
		}
		if resp.HistoryId > historyID {
			historyID = resp.HistoryId
		}
		pageToken = resp.NextPageToken
		if pageToken == "" || s.atLimit(len(ids)) {
			break
		}
	}
	if s.atLimit(len(ids)) {
		ids = ids[:s.cfg.MaxMessages]
	}

	emails, err := s.fetchAll(ctx, srv, account, ids)
	if err != nil {
		return SyncResult{}, err
	}
	metrics.AddEmailsFetched(s.Name(), "incremental", len(emails))
	return SyncResult{Emails: emails, Cursor: strconv.FormatUint(historyID, 10)}, nil
}

func (s *GmailSource) window(ctx context.Context, srv *gmail.Service, account *model.Account) (SyncResult, error) {
	// 先取 historyId，窗口拉取期间的新邮件下次增量可见
	profile, err := srv.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return SyncResult{}, fmt.Errorf("get gmail profile: %w", err)
	}

	days := s.cfg.WindowDays
	if days <= 0 {
		days = 7
	}
	query := fmt.Sprintf("newer_than:%dd", days)

	var ids []string
	pageToken := ""
	for {
		call := srv.Users.Messages.List(gmailUser).Q(query).Context(ctx)
		if s.cfg.MaxMessages > 0 {
			call = call.MaxResults(int64(min(s.cfg.MaxMessages, 500)))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return SyncResult{}, fmt.Errorf("list gmail messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" || s.atLimit(len(ids)) {
			break
		}
	}
	if s.atLimit(len(ids)) {
		ids = ids[:s.cfg.MaxMessages]
	}

	emails, err := s.fetchAll(ctx, srv, account, ids)
	if err != nil {
		return SyncResult{}, err
	}
	metrics.AddEmailsFetched(s.Name(), "window", len(emails))
	return SyncResult{
		Emails:   emails,
		Cursor:   strconv.FormatUint(profile.HistoryId, 10),
		FullSync: true,
	}, nil
}

func (s *GmailSource) atLimit(n int) bool {
	return s.cfg.MaxMessages > 0 && n >= s.cfg.MaxMessages
}

func (s *GmailSource) fetchAll(ctx context.Context, srv *gmail.Service, account *model.Account, ids []string) ([]model.NormalizedEmail, error) {
	emails := make([]model.NormalizedEmail, 0, len(ids))
	for _, id := range ids {
		msg, err := srv.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		if err != nil {
			if isNotFound(err) {
				// 同步期间被删除
				continue
			}
			return nil, fmt.Errorf("get gmail message %s: %w", id, err)
		}
		if hasLabel(msg.LabelIds, "DRAFT") {
			continue
		}
		emails = append(emails, s.normalize(account, msg))
	}
	return emails, nil
}

func (s *GmailSource) normalize(account *model.Account, msg *gmail.Message) model.NormalizedEmail {
	e := model.NormalizedEmail{
		ProviderID: msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    xhtml.UnescapeString(msg.Snippet),
		IsRead:     !hasLabel(msg.LabelIds, "UNREAD"),
		IsStarred:  hasLabel(msg.LabelIds, "STARRED") || hasLabel(msg.LabelIds, "IMPORTANT"),
		FromUser:   hasLabel(msg.LabelIds, "SENT"),
	}
	if msg.InternalDate > 0 {
		e.ReceivedAt = time.UnixMilli(msg.InternalDate)
	}

	var tree *Tree
	if msg.Payload != nil {
		applyHeaders(&e, gmailHeader(msg.Payload.Headers))
		tree = gmailTree(msg.Payload, s.limits)
	}
	finishEmail(&e, account, tree)
	return e
}

func gmailHeader(headers []*gmail.MessagePartHeader) mail.Header {
	var h mail.Header
	for _, kv := range headers {
		if kv != nil {
			h.Add(kv.Name, kv.Value)
		}
	}
	return h
}

// gmailTree converts the payload part tree iteratively, decoding each leaf's
// base64url data with the charset from its own Content-Type.
func gmailTree(payload *gmail.MessagePart, lim Limits) *Tree {
	lim = lim.withDefaults()

	type item struct {
		part   *gmail.MessagePart
		parent *Node
		depth  int
	}
	tree := &Tree{}
	stack := []item{{part: payload}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if tree.Nodes >= lim.MaxNodes {
			tree.Truncated = true
			break
		}
		n := gmailNode(it.part)
		tree.Nodes++
		if it.parent == nil {
			tree.Root = n
		} else {
			it.parent.Children = append(it.parent.Children, n)
		}

		if len(it.part.Parts) == 0 {
			continue
		}
		if it.depth+1 >= lim.MaxDepth {
			tree.Truncated = true
			continue
		}
		if n.Kind != NodeContainer {
			n.Kind = NodeContainer
		}
		for i := len(it.part.Parts) - 1; i >= 0; i-- {
			if it.part.Parts[i] != nil {
				stack = append(stack, item{part: it.part.Parts[i], parent: n, depth: it.depth + 1})
			}
		}
	}
	return tree
}

func gmailNode(p *gmail.MessagePart) *Node {
	var ctype, disposition string
	for _, h := range p.Headers {
		switch strings.ToLower(h.Name) {
		case "content-type":
			ctype = h.Value
		case "content-disposition":
			disposition = h.Value
		}
	}
	_, params, _ := mime.ParseMediaType(ctype)
	disp, _, _ := mime.ParseMediaType(disposition)

	mediaType := strings.ToLower(p.MimeType)
	n := &Node{
		Kind:      nodeKind(mediaType, disp, p.Filename),
		MediaType: mediaType,
		Filename:  p.Filename,
	}
	if p.Body == nil {
		return n
	}
	n.Size = p.Body.Size
	if (n.Kind == NodeText || n.Kind == NodeHTML) && p.Body.Data != "" {
		if raw, err := decodeBase64URL(p.Body.Data); err == nil {
			if len(raw) > maxLeafBytes {
				raw = raw[:maxLeafBytes]
			}
			n.Content = decodeCharset(params["charset"], raw)
		}
	}
	return n
}

// decodeBase64URL accepts both padded and unpadded base64url.
func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
