package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/content"
	"mailtriage/internal/llm"
	"mailtriage/internal/model"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/util"
)

// DefaultVersion labels results written by the model path.
const DefaultVersion = "llm-v1"

// Config 分类引擎参数
type Config struct {
	MaxBatchItems int
	MaxBatchChars int
	PreviewBudget int
	FullBudget    int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxTokens     int
	Temperature   float64
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxBatchItems: 10,
		MaxBatchChars: 24000,
		PreviewBudget: 1500,
		FullBudget:    8000,
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxTokens:     4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBatchItems <= 0 {
		c.MaxBatchItems = d.MaxBatchItems
	}
	if c.MaxBatchChars <= 0 {
		c.MaxBatchChars = d.MaxBatchChars
	}
	if c.PreviewBudget <= 0 {
		c.PreviewBudget = d.PreviewBudget
	}
	if c.FullBudget <= 0 {
		c.FullBudget = d.FullBudget
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// Options are per-call inputs supplied by the orchestrator.
type Options struct {
	Version        string
	Feedback       []FeedbackExample
	Thresholds     Thresholds
	CompanyDomains []string
}

// ItemError is an input that produced no result.
type ItemError struct {
	ID      string
	Message string
}

// Outcome holds exactly one entry per input id, in Results or in Errors.
type Outcome struct {
	Results map[string]model.ClassificationResult
	Errors  []ItemError
}

// Engine classifies enriched emails through an LLM with a deterministic fallback.
type Engine struct {
	provider llm.Provider
	breaker  *circuitbreaker.CircuitBreaker
	cfg      Config
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine 创建分类引擎；breaker 为 nil 时不做熔断
func NewEngine(provider llm.Provider, breaker *circuitbreaker.CircuitBreaker, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		provider: provider,
		breaker:  breaker,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Classify runs both passes over inputs. It never returns an error: inputs the model
// could not handle are classified by FallbackClassify.
func (e *Engine) Classify(ctx context.Context, inputs []model.ClassificationInput, opts Options) Outcome {
	out := Outcome{Results: make(map[string]model.ClassificationResult, len(inputs))}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	thresholds := DefaultThresholds().Merge(opts.Thresholds)

	seen := make(map[string]bool, len(inputs))
	unique := make([]model.ClassificationInput, 0, len(inputs))
	for _, in := range inputs {
		id := in.Email.ID
		switch {
		case id == "":
			out.Errors = append(out.Errors, ItemError{ID: id, Message: "missing email id"})
		case seen[id]:
			out.Errors = append(out.Errors, ItemError{ID: id, Message: "duplicate email id"})
		default:
			seen[id] = true
			unique = append(unique, in)
		}
	}

	for _, batch := range BuildBatches(unique, e.cfg.MaxBatchItems, e.cfg.MaxBatchChars, e.cfg.PreviewBudget) {
		first, pending := e.classifyBatch(ctx, batch.Items, opts, e.cfg.PreviewBudget)
		for _, in := range pending {
			first[in.Email.ID] = FallbackClassify(in, e.now())
		}
		if len(pending) > 0 {
			metrics.IncrementBatchAttempt("fallback")
			e.logger.Warn("batch fell back to rule classifier",
				zap.Int("emails", len(pending)),
			)
		}

		var flagged []model.ClassificationInput
		for _, in := range batch.Items {
			res := first[in.Email.ID]
			if res.Version == model.VersionFallback {
				continue
			}
			reason, ok := NeedsSecondPass(res, content.ScanDates(plainBody(in.Email)), thresholds)
			if !ok {
				continue
			}
			metrics.IncrementSecondPass(string(reason))
			flagged = append(flagged, in)
		}
		if len(flagged) > 0 {
			for _, sb := range BuildBatches(flagged, e.cfg.MaxBatchItems, e.cfg.MaxBatchChars, e.cfg.FullBudget) {
				second, _ := e.classifyBatch(ctx, sb.Items, opts, e.cfg.FullBudget)
				for id, res := range second {
					first[id] = res
				}
			}
		}

		for _, in := range batch.Items {
			res := first[in.Email.ID]
			applyAutomatedPolicy(&res, in.Email.From.Email, opts.CompanyDomains)
			out.Results[in.Email.ID] = res
		}
	}
	return out
}

// classifyBatch calls the model until every item has a result or attempts run out.
// Items still pending on return have no result.
func (e *Engine) classifyBatch(ctx context.Context, items []model.ClassificationInput, opts Options, budget int) (map[string]model.ClassificationResult, []model.ClassificationInput) {
	results := make(map[string]model.ClassificationResult, len(items))
	pending := items
	otherFailures := 0

	for attempt := 0; attempt < e.cfg.MaxAttempts && len(pending) > 0; attempt++ {
		parsed, err := e.callOnce(ctx, pending, opts, budget)
		if err == nil {
			var missing []model.ClassificationInput
			for _, in := range pending {
				if res, ok := parsed[in.Email.ID]; ok {
					results[in.Email.ID] = res
				} else {
					missing = append(missing, in)
				}
			}
			pending = missing
			metrics.IncrementBatchAttempt("success")
			if len(pending) > 0 {
				e.logger.Warn("model omitted emails from response",
					zap.Int("missing", len(pending)),
					zap.Int("attempt", attempt+1),
				)
			}
			continue
		}

		retryable, kind := util.IsRetryableError(err)
		e.logger.Warn("classification attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("emails", len(pending)),
			zap.String("error_type", kind),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || !retryable || ctx.Err() != nil {
			break
		}
		if !util.ShouldRetry(attempt+1, e.cfg.MaxAttempts, retryable) {
			break
		}
		metrics.IncrementBatchAttempt("retry")

		if util.IsRateLimit(err) {
			delay := e.cfg.BaseDelay * time.Duration(1<<attempt)
			if e.sleep(ctx, delay) != nil {
				break
			}
			continue
		}
		// generic transient failures get one immediate retry
		otherFailures++
		if otherFailures > 1 {
			break
		}
	}
	return results, pending
}

// callOnce sends one request and returns normalized results keyed by email id.
func (e *Engine) callOnce(ctx context.Context, items []model.ClassificationInput, opts Options, budget int) (map[string]model.ClassificationResult, error) {
	now := e.now()
	req := llm.Request{
		System:      BuildSystemPrompt(),
		User:        RenderBatch(items, budget, opts.Feedback, now),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}

	var raw string
	call := func(ctx context.Context) error {
		var err error
		raw, err = e.provider.Complete(ctx, req)
		return err
	}
	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s complete: %w", e.provider.Name(), err)
	}

	entries, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.ClassificationInput, len(items))
	for _, in := range items {
		byID[in.Email.ID] = in
	}
	results := make(map[string]model.ClassificationResult, len(entries))
	for _, entry := range entries {
		id := entry.Key()
		in, ok := byID[id]
		if !ok {
			e.logger.Warn("dropping classification for unknown email id", zap.String("email_id", id))
			continue
		}
		if _, dup := results[id]; dup {
			continue
		}
		results[id] = Normalize(entry, in, opts.Version, now)
	}
	if len(results) == 0 {
		return nil, &SchemaError{Reason: "response matched no email in the batch"}
	}
	return results, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
