package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"mailtriage/internal/model"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/mq"
	"mailtriage/pkg/trace"
	"mailtriage/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned with the id of the run that is still running.
var ErrRunInProgress = errors.New("run already in progress")

// 触发来源
const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
	TriggerCLI    = "cli"
)

const staleRunMessage = "superseded: stale run"

// RunRequest is the payload of triage.run.requested.
type RunRequest struct {
	RunID  string `json:"run_id"`
	UserID int    `json:"user_id"`
}

type runStats struct {
	fetched    int
	classified int
	failed     int
}

type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	// 异步运行的生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger starts a run and returns its id without waiting for it.
// The run executes on the message queue when a publisher is configured, otherwise in-process.
func (o *Orchestrator) Trigger(ctx context.Context, userID int) (string, error) {
	run, err := o.startRun(ctx, userID, TriggerManual)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return run.ID, err
		}
		return "", err
	}

	if o.deps.Publisher != nil {
		req := RunRequest{RunID: run.ID, UserID: userID}
		if err := o.deps.Publisher.Publish(trace.WithContext(ctx, run.ID), mq.RoutingRunRequested, req); err != nil {
			o.logger.Error("Failed to publish run request",
				zap.String("run_id", run.ID),
				zap.Int("user_id", userID),
				zap.Error(err),
			)
			msg := fmt.Sprintf("publish run request: %v", err)
			if ferr := o.deps.Runs.Fail(context.WithoutCancel(ctx), run.ID, msg, o.now()); ferr != nil {
				o.logger.Error("Failed to mark run failed", zap.String("run_id", run.ID), zap.Error(ferr))
			}
			return "", fmt.Errorf("publish run request: %w", err)
		}
		return run.ID, nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_ = o.Execute(o.ctx, run.ID, userID)
	}()
	return run.ID, nil
}

// RunNow starts a run and executes it synchronously. The returned run is the final record.
func (o *Orchestrator) RunNow(ctx context.Context, userID int, trigger string) (*model.Run, error) {
	run, err := o.startRun(ctx, userID, trigger)
	if err != nil {
		return run, err
	}
	execErr := o.Execute(ctx, run.ID, userID)

	final, err := o.deps.Runs.Get(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		o.logger.Warn("Failed to reload run", zap.String("run_id", run.ID), zap.Error(err))
		return run, execErr
	}
	return final, execErr
}

// startRun supersedes a stale running run and records a new one.
func (o *Orchestrator) startRun(ctx context.Context, userID int, trigger string) (*model.Run, error) {
	now := o.now()
	existing, err := o.deps.Runs.LatestRunning(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load running run: %w", err)
	}
	if existing != nil {
		age := now.Sub(existing.StartedAt)
		if age < o.cfg.StaleAfter {
			return existing, ErrRunInProgress
		}
		o.logger.Warn("Superseding stale run",
			zap.String("run_id", existing.ID),
			zap.Int("user_id", userID),
			zap.Duration("age", age),
		)
		if err := o.deps.Runs.Fail(ctx, existing.ID, staleRunMessage, now); err != nil {
			return nil, fmt.Errorf("supersede stale run: %w", err)
		}
		metrics.RecordRun("superseded", age)
	}

	run := &model.Run{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    model.RunRunning,
		Trigger:   trigger,
		StartedAt: now,
	}
	if err := o.deps.Runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Execute runs one created run to completion and records its terminal state.
func (o *Orchestrator) Execute(ctx context.Context, runID string, userID int) (err error) {
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, runID)
	}
	log := logger.WithTrace(ctx, o.logger).With(
		zap.String("run_id", runID),
		zap.Int("user_id", userID),
	)
	start := o.now()
	var st runStats

	defer func() {
		if r := recover(); r != nil {
			log.Error("Run panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("run panicked: %v", r)
		}
		o.finish(ctx, runID, st, err, start, log)
	}()

	log.Info("Run started")
	return o.execute(ctx, userID, &st, log)
}

func (o *Orchestrator) finish(ctx context.Context, runID string, st runStats, runErr error, start time.Time, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	now := o.now()
	elapsed := now.Sub(start)

	if runErr != nil {
		if err := o.deps.Runs.Fail(ctx, runID, runErr.Error(), now); err != nil {
			log.Error("Failed to mark run failed", zap.Error(err))
		}
		metrics.RecordRun(string(model.RunFailed), elapsed)
		log.Error("Run failed", zap.Error(runErr), zap.Duration("duration", elapsed))
		return
	}

	if err := o.deps.Runs.Complete(ctx, runID, st.fetched, st.classified, st.failed, now); err != nil {
		log.Error("Failed to mark run completed", zap.Error(err))
	}
	metrics.RecordRun(string(model.RunCompleted), elapsed)
	log.Info("Run completed",
		zap.Int("fetched", st.fetched),
		zap.Int("classified", st.classified),
		zap.Int("failed", st.failed),
		zap.Duration("duration", elapsed),
	)
}

func (o *Orchestrator) execute(ctx context.Context, userID int, st *runStats, log *zap.Logger) error {
	accounts, err := o.deps.Accounts.ListActive(ctx, userID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	// (a) sync
	fetched, err := o.syncAccounts(ctx, accounts, log)
	if err != nil {
		return err
	}
	st.fetched = fetched

	// (b) 未分类邮件
	emails, err := o.deps.Emails.ListUnclassified(ctx, userID, o.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("load unclassified emails: %w", err)
	}
	log.Info("Loaded unclassified emails", zap.Int("count", len(emails)))

	id := NewIdentity(accounts)

	// (c)-(g)
	if len(emails) > 0 {
		b := o.classifyEmails(ctx, userID, emails, id, reasonInitial, true, log)
		st.classified += len(b.persisted)
		st.failed += b.failed

		// (h)
		st.classified += o.processHotThreads(ctx, userID, emails, b.threads, id, log)
	}

	// (i)
	o.applyAutoActions(ctx, userID, log)
	return nil
}

// HandleRunRequested consumes triage.run.requested. Only a malformed payload is an error.
func (o *Orchestrator) HandleRunRequested(ctx context.Context, data json.RawMessage) error {
	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode run request: %w", err)
	}
	if req.RunID == "" || req.UserID <= 0 {
		return fmt.Errorf("invalid run request: run_id=%q user_id=%d", req.RunID, req.UserID)
	}

	log := logger.WithTrace(ctx, o.logger).With(zap.String("run_id", req.RunID))
	run, err := o.deps.Runs.Get(ctx, req.RunID)
	if err != nil {
		log.Warn("Run request for unknown run", zap.Error(err))
		return nil
	}
	if run.Terminal() {
		log.Info("Run already finished, skipping", zap.String("status", string(run.Status)))
		return nil
	}
	_ = o.Execute(ctx, run.ID, run.UserID)
	return nil
}

// RunAll runs every user with an active account, one after another.
// Users over the consecutive-failure limit are skipped until their counter expires.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	users, err := o.deps.Users.ListWithActiveAccounts(ctx)
	if err != nil {
		o.logger.Error("Failed to list users", zap.Error(err))
		return err
	}

	var ran, skipped, failed int
	for _, userID := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key := util.FormatRunFailureKey(userID)
		if o.deps.Failures != nil {
			n, err := o.deps.Failures.Get(ctx, key)
			if err != nil {
				o.logger.Warn("Failed to read failure counter", zap.Int("user_id", userID), zap.Error(err))
			} else if n >= int64(o.cfg.MaxConsecutiveFailures) {
				o.logger.Warn("Skipping user after consecutive failures",
					zap.Int("user_id", userID),
					zap.Int64("failures", n),
				)
				skipped++
				continue
			}
		}

		_, err := o.RunNow(ctx, userID, TriggerCron)
		switch {
		case errors.Is(err, ErrRunInProgress):
			skipped++
			continue
		case err != nil:
			failed++
			if o.deps.Failures != nil {
				if _, cerr := o.deps.Failures.IncrementAndGet(ctx, key); cerr != nil {
					o.logger.Warn("Failed to increment failure counter", zap.Int("user_id", userID), zap.Error(cerr))
				}
			}
		default:
			ran++
			if o.deps.Failures != nil {
				if cerr := o.deps.Failures.Reset(ctx, key); cerr != nil {
					o.logger.Warn("Failed to reset failure counter", zap.Int("user_id", userID), zap.Error(cerr))
				}
			}
		}
	}

	o.logger.Info("Scheduled runs completed",
		zap.Int("users", len(users)),
		zap.Int("ran", ran),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)
	return nil
}

// Close cancels in-process runs. Call Wait to join them.
func (o *Orchestrator) Close() {
	o.cancel()
}

func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
