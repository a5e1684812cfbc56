package pipeline

import (
	"context"

	"mailtriage/internal/model"
	"mailtriage/internal/priority"

	"go.uber.org/zap"
)

// hotThread 本次运行收到多封新邮件的线程
type hotThread struct {
	id     string
	latest model.NormalizedEmail
	older  []model.NormalizedEmail
}

// findHotThreads groups this run's emails by thread and keeps threads with at least minNew new messages.
// older holds the stored messages of the thread that were not part of this run, user-sent mail excluded.
func findHotThreads(batch []model.NormalizedEmail, threads map[string][]model.NormalizedEmail, id Identity, minNew int) []hotThread {
	counts := map[string]int{}
	isNew := map[string]bool{}
	var order []string
	for _, e := range batch {
		if e.ThreadID == "" {
			continue
		}
		if counts[e.ThreadID] == 0 {
			order = append(order, e.ThreadID)
		}
		counts[e.ThreadID]++
		isNew[e.ID] = true
	}

	var out []hotThread
	for _, tid := range order {
		if counts[tid] < minNew {
			continue
		}
		ht := hotThread{id: tid}
		for _, e := range batch {
			if e.ThreadID == tid && e.ReceivedAt.After(ht.latest.ReceivedAt) {
				ht.latest = e
			}
		}
		for _, m := range threads[tid] {
			if m.ReceivedAt.After(ht.latest.ReceivedAt) {
				ht.latest = m
			}
			if isNew[m.ID] || id.sentBy(m) {
				continue
			}
			ht.older = append(ht.older, m)
		}
		out = append(out, ht)
	}
	return out
}

// processHotThreads re-classifies or resolves older siblings of hot threads.
// It returns the number of re-classified emails.
func (o *Orchestrator) processHotThreads(ctx context.Context, userID int, batch []model.NormalizedEmail, threads map[string][]model.NormalizedEmail, id Identity, log *zap.Logger) int {
	hot := findHotThreads(batch, threads, id, o.cfg.HotThreadMin)
	if len(hot) == 0 {
		return 0
	}

	var olderIDs []string
	for _, ht := range hot {
		olderIDs = append(olderIDs, emailIDs(ht.older)...)
	}
	existing := map[string]model.ClassificationResult{}
	if len(olderIDs) > 0 {
		var err error
		existing, err = o.deps.Classifications.GetByEmailIDs(ctx, userID, olderIDs)
		if err != nil {
			log.Warn("Failed to load sibling classifications", zap.Error(err))
			return 0
		}
	}

	reclassified := 0
	for _, ht := range hot {
		var eligible []model.NormalizedEmail
		for _, m := range ht.older {
			c, ok := existing[m.ID]
			if !ok || c.Handled || c.UserOverridden || c.ThreadResolved {
				continue
			}
			eligible = append(eligible, m)
		}
		tlog := log.With(zap.String("thread_id", ht.id), zap.Int("siblings", len(eligible)))
		if len(eligible) == 0 {
			continue
		}

		if priority.DetectResolution(ht.latest.Subject, plainText(ht.latest)) {
			n, err := o.deps.Classifications.MarkThreadResolved(ctx, userID, emailIDs(eligible))
			if err != nil {
				tlog.Warn("Failed to mark thread resolved", zap.Error(err))
				continue
			}
			tlog.Info("Hot thread resolved", zap.Int("marked", n))
			continue
		}

		b := o.classifyEmails(ctx, userID, eligible, id, reasonHotThread, false, tlog)
		reclassified += len(b.persisted)
		tlog.Info("Hot thread re-classified", zap.Int("reclassified", len(b.persisted)), zap.Int("failed", b.failed))
	}
	return reclassified
}
