package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mailtriage/internal/classify"
	"mailtriage/internal/content"
	"mailtriage/internal/model"
	"mailtriage/internal/priority"
	"mailtriage/internal/repository"

	"go.uber.org/zap"
)

// ErrInvalidOverride 覆盖参数非法
var ErrInvalidOverride = errors.New("invalid override")

type InboxReader interface {
	List(ctx context.Context, userID int, f repository.InboxFilter) ([]repository.InboxRow, error)
}

type ThreadReader interface {
	ListByThreads(ctx context.Context, userID int, threadIDs []string) (map[string][]model.NormalizedEmail, error)
	FindByID(ctx context.Context, userID int, id string) (*model.NormalizedEmail, error)
}

type OverrideStore interface {
	Get(ctx context.Context, userID int, emailID string) (*model.ClassificationResult, error)
	ApplyOverride(ctx context.Context, res model.ClassificationResult, o model.Override) error
	MarkHandled(ctx context.Context, userID int, emailID string) error
}

// ClassifiedEmail is the read model: the stored classification plus read-time priority.
type ClassifiedEmail struct {
	model.ClassificationResult
	ThreadID   string        `json:"thread_id"`
	From       model.Address `json:"from"`
	Subject    string        `json:"subject"`
	Snippet    string        `json:"snippet"`
	ReceivedAt time.Time     `json:"received_at"`
	IsRead     bool          `json:"is_read"`
	IsStarred  bool          `json:"is_starred"`

	EffectivePriority int      `json:"effective_priority"`
	EscalationReasons []string `json:"escalation_reasons"`
}

// ListFilter 查询条件；MaxPriority 为 0 表示不过滤
type ListFilter struct {
	Category       model.Category
	MaxPriority    int
	IncludeHandled bool
	Limit          int
}

// OverridePatch holds the fields a user may correct. Nil fields are kept.
type OverridePatch struct {
	Category      *model.Category `json:"category"`
	Priority      *int            `json:"priority"`
	NeedsReply    *bool           `json:"needs_reply"`
	NeedsApproval *bool           `json:"needs_approval"`
}

type InboxService struct {
	inbox          InboxReader
	emails         ThreadReader
	store          OverrideStore
	cfg            priority.Config
	companyDomains []string
	logger         *zap.Logger
	now            func() time.Time
}

func NewInboxService(inbox InboxReader, emails ThreadReader, store OverrideStore, cfg priority.Config, companyDomains []string, logger *zap.Logger) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxService{
		inbox:          inbox,
		emails:         emails,
		store:          store,
		cfg:            cfg.WithDefaults(),
		companyDomains: companyDomains,
		logger:         logger,
		now:            time.Now,
	}
}

// List returns classified mail ordered by effective priority, then newest first.
func (s *InboxService) List(ctx context.Context, userID int, f ListFilter) ([]ClassifiedEmail, error) {
	rows, err := s.inbox.List(ctx, userID, repository.InboxFilter{
		Category:       f.Category,
		IncludeHandled: f.IncludeHandled,
		Limit:          f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}

	var threadIDs []string
	seen := map[string]bool{}
	for _, r := range rows {
		if t := r.Email.ThreadID; t != "" && !seen[t] {
			seen[t] = true
			threadIDs = append(threadIDs, t)
		}
	}
	threads := map[string][]model.NormalizedEmail{}
	if len(threadIDs) > 0 {
		if threads, err = s.emails.ListByThreads(ctx, userID, threadIDs); err != nil {
			s.logger.Warn("Failed to load threads for inbox", zap.Int("user_id", userID), zap.Error(err))
			threads = map[string][]model.NormalizedEmail{}
		}
	}

	now := s.now()
	out := make([]ClassifiedEmail, 0, len(rows))
	for _, r := range rows {
		sig := Signals(r, threads[r.Email.ThreadID], s.companyDomains, now)
		c := r.Classification
		item := ClassifiedEmail{
			ClassificationResult: c,
			ThreadID:             r.Email.ThreadID,
			From:                 r.Email.From,
			Subject:              r.Email.Subject,
			Snippet:              r.Email.Snippet,
			ReceivedAt:           r.Email.ReceivedAt,
			IsRead:               r.Email.IsRead,
			IsStarred:            r.Email.IsStarred,
			EffectivePriority:    priority.Effective(c.Priority, c.Deadline, sig, s.cfg, now),
			EscalationReasons:    priority.Reasons(c.Priority, c.Deadline, sig, s.cfg, now),
		}
		if item.EscalationReasons == nil {
			item.EscalationReasons = []string{}
		}
		if f.MaxPriority > 0 && item.EffectivePriority > f.MaxPriority {
			continue
		}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EffectivePriority != out[j].EffectivePriority {
			return out[i].EffectivePriority < out[j].EffectivePriority
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}

// Signals derives the read-time priority inputs of one stored classification.
func Signals(r repository.InboxRow, thread []model.NormalizedEmail, companyDomains []string, now time.Time) priority.Signals {
	e, c := r.Email, r.Classification
	body := e.Body
	if e.IsHTML {
		body = content.HTMLToPlainText(body)
	}

	sig := priority.Signals{
		Handled:        c.Handled,
		ThreadResolved: c.ThreadResolved,
		ReceivedAt:     e.ReceivedAt,
		NeedsReply:     c.NeedsReply,
		FollowUp:       priority.DetectFollowUp(e.Subject, body),
		Escalation:     priority.DetectEscalation(e.Subject, body),
		ActiveThread:   c.IsThreadActive,
		Starred:        e.IsStarred,
		CompanyDomain:  classify.IsCompanyDomain(e.From.Domain(), companyDomains),
		Confidence:     c.Confidence,
	}
	for _, item := range c.ActionItems {
		if item.DueDate != nil {
			sig.ActionItemDueDates = append(sig.ActionItemDueDates, *item.DueDate)
		}
	}
	for _, m := range thread {
		if m.ID != e.ID && m.FromUser && m.ReceivedAt.After(e.ReceivedAt) {
			sig.UserReplied = true
			break
		}
	}
	if p := r.Sender; p != nil {
		sig.VIP = p.IsVIP
		sig.AvgResponseDays = p.AvgResponseDays
		sig.AnomalousVolume = p.IsAnomalousVolume(now)
		sig.Colleague = p.Relationship == model.RelationshipColleague || p.Relationship == model.RelationshipManager
		sig.Automated = p.Relationship == model.RelationshipAutomated
	}
	if !sig.Automated {
		sig.Automated = classify.IsAutomatedSender(e.From.Email, companyDomains)
	}
	return sig
}

// Override records a user correction. The classification is pinned against automated rewrites.
func (s *InboxService) Override(ctx context.Context, userID int, emailID string, patch OverridePatch) (*model.ClassificationResult, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}
	cur, err := s.store.Get(ctx, userID, emailID)
	if err != nil {
		return nil, err
	}
	email, err := s.emails.FindByID(ctx, userID, emailID)
	if err != nil {
		return nil, err
	}

	res := *cur
	if patch.Category != nil {
		res.Category = *patch.Category
	}
	if patch.Priority != nil {
		res.Priority = *patch.Priority
	}
	if patch.NeedsReply != nil {
		res.NeedsReply = *patch.NeedsReply
	}
	if patch.NeedsApproval != nil {
		res.NeedsApproval = *patch.NeedsApproval
	}
	res.UserOverridden = true
	res.Version = model.VersionUser

	o := model.Override{
		EmailID:      emailID,
		UserID:       userID,
		SenderEmail:  strings.ToLower(email.From.Email),
		Subject:      email.Subject,
		FromCategory: cur.Category,
		ToCategory:   res.Category,
		FromPriority: cur.Priority,
		ToPriority:   res.Priority,
		CreatedAt:    s.now(),
	}
	if err := s.store.ApplyOverride(ctx, res, o); err != nil {
		return nil, fmt.Errorf("apply override: %w", err)
	}
	s.logger.Info("Classification overridden",
		zap.Int("user_id", userID),
		zap.String("email_id", emailID),
		zap.String("from_category", string(o.FromCategory)),
		zap.String("to_category", string(o.ToCategory)),
		zap.Int("to_priority", o.ToPriority),
	)
	return &res, nil
}

func (p OverridePatch) validate() error {
	if p.Category == nil && p.Priority == nil && p.NeedsReply == nil && p.NeedsApproval == nil {
		return fmt.Errorf("%w: nothing to change", ErrInvalidOverride)
	}
	if p.Category != nil && !p.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidOverride, *p.Category)
	}
	if p.Priority != nil && (*p.Priority < priority.MinPriority || *p.Priority > priority.MaxPriority) {
		return fmt.Errorf("%w: priority must be %d-%d", ErrInvalidOverride, priority.MinPriority, priority.MaxPriority)
	}
	return nil
}

// MarkHandled 用户标记已处理
func (s *InboxService) MarkHandled(ctx context.Context, userID int, emailID string) error {
	return s.store.MarkHandled(ctx, userID, emailID)
}
