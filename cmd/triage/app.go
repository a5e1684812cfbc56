package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailtriage/internal/classify"
	"mailtriage/internal/config"
	"mailtriage/internal/llm"
	"mailtriage/internal/mailsource"
	"mailtriage/internal/model"
	"mailtriage/internal/pipeline"
	"mailtriage/internal/repository"
	"mailtriage/internal/service"
	internalutil "mailtriage/internal/util"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/db"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/mq"
	"mailtriage/pkg/redis"
	"mailtriage/pkg/util"
)

// app holds the process-wide wiring shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	rdb    *goredis.Client

	runs            *repository.RunRepository
	users           *repository.UserRepository
	accounts        *repository.AccountRepository
	emails          *repository.EmailRepository
	classifications *repository.ClassificationRepository
	senders         *repository.SenderRepository
	rules           *repository.RuleRepository
	inbox           *repository.InboxRepository

	publisher    *mq.Publisher
	orchestrator *pipeline.Orchestrator
}

// newBase loads config and connects to Postgres. Commands that only touch the DB stop here.
func newBase(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configEnv, configDir)
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(cfg.Env)

	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}

	box, err := internalutil.NewCredentialBox(cfg.Mail.CredentialKey)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if box == nil {
		log.Warn("No credential key configured, account secrets are stored in plain text")
	}

	return &app{
		cfg:             cfg,
		logger:          log,
		pool:            pool,
		runs:            repository.NewRunRepository(pool),
		users:           repository.NewUserRepository(pool),
		accounts:        repository.NewAccountRepository(pool, box),
		emails:          repository.NewEmailRepository(pool),
		classifications: repository.NewClassificationRepository(pool),
		senders:         repository.NewSenderRepository(pool),
		rules:           repository.NewRuleRepository(pool),
		inbox:           repository.NewInboxRepository(pool),
	}, nil
}

// newApp wires the full pipeline: LLM, breaker, Redis coordination and (optionally) the MQ publisher.
func newApp(ctx context.Context, withPublisher bool) (*app, error) {
	a, err := newBase(ctx)
	if err != nil {
		return nil, err
	}
	cfg, log := a.cfg, a.logger

	provider, err := llm.NewProvider(ctx, cfg.LLM, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	engine := classify.NewEngine(provider, newBreaker(cfg.Triage, log), classify.Config{
		MaxBatchItems: cfg.Triage.MaxBatchItems,
		MaxBatchChars: cfg.Triage.MaxBatchChars,
		PreviewBudget: cfg.Triage.PreviewBudget,
		FullBudget:    cfg.Triage.FullBudget,
		MaxAttempts:   cfg.Triage.MaxAttempts,
		BaseDelay:     cfg.Triage.BaseDelay(),
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
	}, log)

	deps := pipeline.Deps{
		Runs:            a.runs,
		Accounts:        a.accounts,
		Users:           a.users,
		Emails:          a.emails,
		Classifications: a.classifications,
		Senders:         a.senders,
		Rules:           a.rules,
		Classifier:      engine,
		Sources: func(account *model.Account) (mailsource.Source, error) {
			return mailsource.NewSource(account, cfg.Mail, log)
		},
	}

	// Redis 不可用时降级：没有租约和失败计数
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, running without sync lease and failure counter", zap.Error(err))
			_ = rdb.Close()
		} else {
			a.rdb = rdb
			deps.Lease = util.NewLease(rdb, cfg.Triage.LeaseTTL(), log)
			deps.Failures = util.NewFailureCounter(rdb, cfg.Triage.FailureTTL())
		}
	}

	if withPublisher && cfg.MQ.Enabled && cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init mq publisher: %w", err)
		}
		a.publisher = publisher
		deps.Publisher = publisher
	}

	a.orchestrator = pipeline.New(deps, pipeline.ConfigFrom(cfg.Triage), log)
	return a, nil
}

func newBreaker(t config.TriageConfig, log *zap.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		Name:             "llm",
		FailureThreshold: t.BreakerFailureThreshold,
		Timeout:          time.Duration(t.BreakerTimeoutSeconds) * time.Second,
		IsFailure: func(err error) bool {
			retryable, _ := util.IsRetryableError(err)
			return retryable
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.IncrementCircuitStateChange(name, to.String())
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (a *app) inboxService() *service.InboxService {
	return service.NewInboxService(a.inbox, a.emails, a.classifications, a.cfg.Priority, a.cfg.Triage.CompanyDomains, a.logger)
}

func (a *app) authService(ttl time.Duration) *service.AuthService {
	return service.NewAuthService(a.users, a.accounts, a.cfg.JWT.Secret, ttl)
}

func (a *app) close() {
	if a.orchestrator != nil {
		a.orchestrator.Close()
		a.orchestrator.Wait()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
