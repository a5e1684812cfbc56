package pipeline

import (
	"context"
	"strings"

	"mailtriage/internal/classify"
	"mailtriage/internal/model"
	"mailtriage/internal/rules"
	"mailtriage/pkg/metrics"

	"go.uber.org/zap"
)

// history reasons
const (
	reasonInitial   = "initial"
	reasonHotThread = "hot-thread"
	reasonRule      = "rule:"
)

// batchResult 一批邮件的处理结果
type batchResult struct {
	persisted map[string]model.ClassificationResult
	failed    int
	// thread id -> stored messages, oldest first
	threads map[string][]model.NormalizedEmail
}

// classifyEmails runs rules, enrichment, the classifier and persistence for one batch.
// Context loads that fail degrade to empty context with a warning.
func (o *Orchestrator) classifyEmails(ctx context.Context, userID int, emails []model.NormalizedEmail, id Identity, reason string, updateSenders bool, log *zap.Logger) batchResult {
	out := batchResult{persisted: map[string]model.ClassificationResult{}}
	now := o.now()

	// (c) 线程与发件人
	threads, err := o.deps.Emails.ListByThreads(ctx, userID, threadIDs(emails))
	if err != nil {
		log.Warn("Failed to load thread siblings", zap.Error(err))
		threads = map[string][]model.NormalizedEmail{}
	}
	out.threads = threads

	senders := senderSet(emails)
	profiles, err := o.deps.Senders.GetByEmails(ctx, userID, keys(senders))
	if err != nil {
		log.Warn("Failed to load sender profiles", zap.Error(err))
		profiles = map[string]*model.SenderProfile{}
	}

	existing, err := o.deps.Classifications.GetByEmailIDs(ctx, userID, emailIDs(emails))
	if err != nil {
		log.Warn("Failed to load existing classifications", zap.Error(err))
		existing = map[string]model.ClassificationResult{}
	}

	// (d) 用户规则
	userRules, err := o.deps.Rules.ListActive(ctx, userID)
	if err != nil {
		log.Warn("Failed to load user rules", zap.Error(err))
	}

	var (
		inputs  []model.ClassificationInput
		written []model.NormalizedEmail
	)
	for _, e := range emails {
		if c, ok := existing[e.ID]; ok && c.UserOverridden {
			continue
		}
		if r, ok := rules.First(userRules, e); ok {
			res := rules.Apply(r, e, now)
			switch ok, err := o.persist(ctx, res, reasonRule+r.Name, log); {
			case err != nil:
				out.failed++
			case ok:
				out.persisted[e.ID] = res
				written = append(written, e)
			}
			continue
		}
		// (e) 构建输入
		thread := threads[e.ThreadID]
		inputs = append(inputs, BuildInput(e, thread, profiles[strings.ToLower(e.From.Email)], id, now))
	}

	if len(inputs) > 0 {
		opts := classify.Options{
			Version:        o.cfg.Version,
			Feedback:       o.feedback(ctx, userID, senders, log),
			Thresholds:     o.thresholds(ctx, userID, log),
			CompanyDomains: o.cfg.CompanyDomains,
		}
		outcome := o.deps.Classifier.Classify(ctx, inputs, opts)
		for _, ie := range outcome.Errors {
			out.failed++
			log.Warn("Email not classified", zap.String("email_id", ie.ID), zap.String("error", ie.Message))
		}
		// (f) 持久化
		for _, in := range inputs {
			res, ok := outcome.Results[in.Email.ID]
			if !ok {
				continue
			}
			switch ok, err := o.persist(ctx, res, reason, log); {
			case err != nil:
				out.failed++
			case ok:
				out.persisted[in.Email.ID] = res
				written = append(written, in.Email)
			}
		}
	}

	// (g) 发件人画像
	if updateSenders {
		o.updateSenders(ctx, userID, written, out.persisted, profiles, log)
	}
	return out
}

// persist upserts one result. It reports false without an error when the row is user-overridden.
func (o *Orchestrator) persist(ctx context.Context, res model.ClassificationResult, reason string, log *zap.Logger) (bool, error) {
	if res.ClassifiedAt.IsZero() {
		res.ClassifiedAt = o.now()
	}
	written, err := o.deps.Classifications.Upsert(ctx, res, reason)
	if err != nil {
		log.Error("Failed to persist classification", zap.String("email_id", res.EmailID), zap.Error(err))
		return false, err
	}
	if !written {
		log.Info("Classification kept: user override", zap.String("email_id", res.EmailID))
		return false, nil
	}
	metrics.IncrementClassification(resultSource(res.Version), string(res.Category))
	return true, nil
}

func resultSource(version string) string {
	switch version {
	case model.VersionUserRule:
		return "rule"
	case model.VersionFallback:
		return "fallback"
	default:
		return "llm"
	}
}

func (o *Orchestrator) feedback(ctx context.Context, userID int, senders map[string]bool, log *zap.Logger) []classify.FeedbackExample {
	if o.cfg.FeedbackLimit == 0 {
		return nil
	}
	overrides, err := o.deps.Classifications.RecentOverrides(ctx, userID, o.cfg.FeedbackLimit*4)
	if err != nil {
		log.Warn("Failed to load recent overrides", zap.Error(err))
		return nil
	}
	return BuildFeedback(overrides, senders, o.cfg.FeedbackLimit)
}

func (o *Orchestrator) thresholds(ctx context.Context, userID int, log *zap.Logger) classify.Thresholds {
	stats, err := o.deps.Classifications.CategoryStats(ctx, userID, o.now().Add(-o.cfg.Tuning.Window))
	if err != nil {
		log.Warn("Failed to load category stats", zap.Error(err))
		return nil
	}
	t := TunedThresholds(stats, o.cfg.Tuning)
	for cat, v := range t {
		log.Info("Threshold tuned", zap.String("category", string(cat)), zap.Float64("threshold", v))
	}
	return t
}

func threadIDs(emails []model.NormalizedEmail) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range emails {
		if e.ThreadID != "" && !seen[e.ThreadID] {
			seen[e.ThreadID] = true
			out = append(out, e.ThreadID)
		}
	}
	return out
}

func emailIDs(emails []model.NormalizedEmail) []string {
	out := make([]string, len(emails))
	for i, e := range emails {
		out[i] = e.ID
	}
	return out
}

func senderSet(emails []model.NormalizedEmail) map[string]bool {
	out := map[string]bool{}
	for _, e := range emails {
		if addr := strings.ToLower(e.From.Email); addr != "" {
			out[addr] = true
		}
	}
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
