package pipeline

import (
	"context"
	"time"

	"mailtriage/internal/classify"
	"mailtriage/internal/mailsource"
	"mailtriage/internal/model"
)

// RunStore 运行记录
type RunStore interface {
	Create(ctx context.Context, run *model.Run) error
	Get(ctx context.Context, id string) (*model.Run, error)
	LatestRunning(ctx context.Context, userID int) (*model.Run, error)
	Complete(ctx context.Context, id string, fetched, classified, failed int, at time.Time) error
	Fail(ctx context.Context, id, message string, at time.Time) error
}

type AccountStore interface {
	ListActive(ctx context.Context, userID int) ([]model.Account, error)
	SaveCursor(ctx context.Context, accountID int, cursor string, syncedAt time.Time) error
}

type UserStore interface {
	ListWithActiveAccounts(ctx context.Context) ([]int, error)
}

type EmailStore interface {
	InsertEmails(ctx context.Context, emails []model.NormalizedEmail) (int, error)
	ListUnclassified(ctx context.Context, userID, limit int) ([]model.NormalizedEmail, error)
	ListByThreads(ctx context.Context, userID int, threadIDs []string) (map[string][]model.NormalizedEmail, error)
}

type ClassificationStore interface {
	Upsert(ctx context.Context, res model.ClassificationResult, reason string) (bool, error)
	GetByEmailIDs(ctx context.Context, userID int, ids []string) (map[string]model.ClassificationResult, error)
	MarkHandled(ctx context.Context, userID int, emailID string) error
	MarkThreadResolved(ctx context.Context, userID int, emailIDs []string) (int, error)
	ListAutoActionCandidates(ctx context.Context, userID int, since time.Time) ([]model.ClassificationResult, error)
	CategoryStats(ctx context.Context, userID int, since time.Time) ([]model.CategoryStats, error)
	RecentOverrides(ctx context.Context, userID, limit int) ([]model.Override, error)
}

type SenderStore interface {
	GetByEmails(ctx context.Context, userID int, emails []string) (map[string]*model.SenderProfile, error)
	Save(ctx context.Context, p *model.SenderProfile) error
}

type RuleStore interface {
	ListActive(ctx context.Context, userID int) ([]model.UserRule, error)
}

// Classifier is satisfied by *classify.Engine.
type Classifier interface {
	Classify(ctx context.Context, inputs []model.ClassificationInput, opts classify.Options) classify.Outcome
}

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Lease is a cross-process exclusive lock with a TTL (see util.Lease).
type Lease interface {
	Acquire(ctx context.Context, key, owner string) bool
	Release(ctx context.Context, key, owner string)
}

// FailureCounter counts consecutive failed runs (see util.FailureCounter).
type FailureCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// SourceFactory 按账户创建邮件源
type SourceFactory func(account *model.Account) (mailsource.Source, error)

// Deps wires the orchestrator. Publisher, Lease and Failures are optional.
type Deps struct {
	Runs            RunStore
	Accounts        AccountStore
	Users           UserStore
	Emails          EmailStore
	Classifications ClassificationStore
	Senders         SenderStore
	Rules           RuleStore
	Classifier      Classifier
	Sources         SourceFactory

	Publisher Publisher
	Lease     Lease
	Failures  FailureCounter
}
