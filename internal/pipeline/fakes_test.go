package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"mailtriage/internal/classify"
	"mailtriage/internal/mailsource"
	"mailtriage/internal/model"
)

var (
	testNow     = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	errNotFound = errors.New("not found")
)

type fakeRuns struct {
	mu   sync.Mutex
	runs map[string]*model.Run
}

func (f *fakeRuns) Create(_ context.Context, run *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeRuns) Get(_ context.Context, id string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRuns) LatestRunning(_ context.Context, userID int) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.Run
	for _, r := range f.runs {
		if r.UserID == userID && r.Status == model.RunRunning && (latest == nil || r.StartedAt.After(latest.StartedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeRuns) Complete(_ context.Context, id string, fetched, classified, failed int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != model.RunRunning {
		return errNotFound
	}
	r.Status = model.RunCompleted
	r.Fetched, r.Classified, r.Failed = fetched, classified, failed
	r.CompletedAt = &at
	return nil
}

func (f *fakeRuns) Fail(_ context.Context, id, message string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != model.RunRunning {
		return errNotFound
	}
	r.Status = model.RunFailed
	r.Error = message
	r.CompletedAt = &at
	return nil
}

func (f *fakeRuns) byUser(userID int) []model.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Run
	for _, r := range f.runs {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[int][]model.Account
	cursors  map[int]string
}

func (f *fakeAccounts) ListActive(_ context.Context, userID int) ([]model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Account(nil), f.accounts[userID]...), nil
}

func (f *fakeAccounts) SaveCursor(_ context.Context, accountID int, cursor string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[accountID] = cursor
	return nil
}

type fakeUsers struct{ ids []int }

func (f *fakeUsers) ListWithActiveAccounts(context.Context) ([]int, error) { return f.ids, nil }

type fakeEmails struct {
	mu      sync.Mutex
	emails  []model.NormalizedEmail
	classes *fakeClassifications
}

func (f *fakeEmails) InsertEmails(_ context.Context, emails []model.NormalizedEmail) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range emails {
		dup := false
		for _, have := range f.emails {
			if have.ID == e.ID {
				dup = true
				break
			}
		}
		if !dup {
			f.emails = append(f.emails, e)
			n++
		}
	}
	return n, nil
}

func (f *fakeEmails) ListUnclassified(_ context.Context, userID, limit int) ([]model.NormalizedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.NormalizedEmail
	for _, e := range f.emails {
		if e.UserID != userID || e.FromUser || f.classes.has(e.ID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeEmails) ListByThreads(_ context.Context, userID int, threadIDs []string) (map[string][]model.NormalizedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, t := range threadIDs {
		want[t] = true
	}
	out := map[string][]model.NormalizedEmail{}
	for _, e := range f.emails {
		if e.UserID == userID && want[e.ThreadID] {
			out[e.ThreadID] = append(out[e.ThreadID], e)
		}
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool { return list[i].ReceivedAt.Before(list[j].ReceivedAt) })
	}
	return out, nil
}

type fakeClassifications struct {
	mu        sync.Mutex
	rows      map[string]model.ClassificationResult
	reasons   map[string][]string
	overrides []model.Override
	stats     []model.CategoryStats
	resolved  []string
}

func (f *fakeClassifications) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[id]
	return ok
}

func (f *fakeClassifications) row(id string) (model.ClassificationResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	return r, ok
}

func (f *fakeClassifications) Upsert(_ context.Context, res model.ClassificationResult, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if have, ok := f.rows[res.EmailID]; ok {
		if have.UserOverridden {
			return false, nil
		}
		res.Handled = res.Handled || have.Handled
		res.ThreadResolved = have.ThreadResolved
	}
	f.rows[res.EmailID] = res
	f.reasons[res.EmailID] = append(f.reasons[res.EmailID], reason)
	return true, nil
}

func (f *fakeClassifications) GetByEmailIDs(_ context.Context, userID int, ids []string) (map[string]model.ClassificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]model.ClassificationResult{}
	for _, id := range ids {
		if r, ok := f.rows[id]; ok && r.UserID == userID {
			out[id] = r
		}
	}
	return out, nil
}

func (f *fakeClassifications) MarkHandled(_ context.Context, _ int, emailID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[emailID]
	if !ok {
		return errNotFound
	}
	r.Handled = true
	f.rows[emailID] = r
	return nil
}

func (f *fakeClassifications) MarkThreadResolved(_ context.Context, _ int, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if r, ok := f.rows[id]; ok && !r.UserOverridden {
			r.ThreadResolved = true
			f.rows[id] = r
			f.resolved = append(f.resolved, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeClassifications) ListAutoActionCandidates(_ context.Context, userID int, since time.Time) ([]model.ClassificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ClassificationResult
	for _, r := range f.rows {
		if r.UserID == userID && !r.ClassifiedAt.Before(since) && !r.Handled && !r.UserOverridden {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeClassifications) CategoryStats(context.Context, int, time.Time) ([]model.CategoryStats, error) {
	return f.stats, nil
}

func (f *fakeClassifications) RecentOverrides(_ context.Context, _ int, limit int) ([]model.Override, error) {
	if len(f.overrides) > limit {
		return f.overrides[:limit], nil
	}
	return f.overrides, nil
}

type fakeSenders struct {
	mu       sync.Mutex
	profiles map[string]*model.SenderProfile
}

func (f *fakeSenders) GetByEmails(_ context.Context, _ int, emails []string) (map[string]*model.SenderProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]*model.SenderProfile{}
	for _, e := range emails {
		if p, ok := f.profiles[e]; ok {
			cp := *p
			out[e] = &cp
		}
	}
	return out, nil
}

func (f *fakeSenders) Save(_ context.Context, p *model.SenderProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.profiles[p.Email] = &cp
	return nil
}

type fakeRules struct{ rules []model.UserRule }

func (f *fakeRules) ListActive(context.Context, int) ([]model.UserRule, error) { return f.rules, nil }

// fakeClassifier returns newsletter/4 for subjects containing "digest", task/2 otherwise.
type fakeClassifier struct {
	mu    sync.Mutex
	calls [][]model.ClassificationInput
	opts  []classify.Options
}

func (f *fakeClassifier) Classify(_ context.Context, inputs []model.ClassificationInput, opts classify.Options) classify.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, inputs)
	f.opts = append(f.opts, opts)
	out := classify.Outcome{Results: map[string]model.ClassificationResult{}}
	for _, in := range inputs {
		res := model.ClassificationResult{
			EmailID:      in.Email.ID,
			UserID:       in.Email.UserID,
			Priority:     2,
			Category:     model.CategoryTask,
			Confidence:   0.9,
			Version:      opts.Version,
			Topics:       []string{"ops"},
			ClassifiedAt: testNow,
		}
		if strings.Contains(strings.ToLower(in.Email.Subject), "digest") {
			res.Priority = 4
			res.Category = model.CategoryNewsletter
		}
		out.Results[in.Email.ID] = res
	}
	return out
}

func (f *fakeClassifier) inputIDs(call int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, in := range f.calls[call] {
		ids = append(ids, in.Email.ID)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSource struct {
	emails []model.NormalizedEmail
	cursor string
	err    error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Sync(_ context.Context, account *model.Account, _ string) (mailsource.SyncResult, error) {
	if s.err != nil {
		return mailsource.SyncResult{}, s.err
	}
	var out []model.NormalizedEmail
	for _, e := range s.emails {
		if e.AccountID == account.ID {
			out = append(out, e)
		}
	}
	return mailsource.SyncResult{Emails: out, Cursor: s.cursor}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	keys     []string
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return nil
}

type fakeFailures struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *fakeFailures) IncrementAndGet(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeFailures) Get(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key], nil
}

func (f *fakeFailures) Reset(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
	return nil
}

type harness struct {
	runs       *fakeRuns
	accounts   *fakeAccounts
	users      *fakeUsers
	emails     *fakeEmails
	classes    *fakeClassifications
	senders    *fakeSenders
	rules      *fakeRules
	classifier *fakeClassifier
	source     *fakeSource
	failures   *fakeFailures
}

func newHarness() *harness {
	classes := &fakeClassifications{
		rows:    map[string]model.ClassificationResult{},
		reasons: map[string][]string{},
	}
	return &harness{
		runs: &fakeRuns{runs: map[string]*model.Run{}},
		accounts: &fakeAccounts{
			accounts: map[int][]model.Account{
				1: {{ID: 10, UserID: 1, Provider: model.ProviderIMAP, Email: "me@acme.io", Active: true}},
			},
			cursors: map[int]string{},
		},
		users:      &fakeUsers{ids: []int{1}},
		emails:     &fakeEmails{classes: classes},
		classes:    classes,
		senders:    &fakeSenders{profiles: map[string]*model.SenderProfile{}},
		rules:      &fakeRules{},
		classifier: &fakeClassifier{},
		source:     &fakeSource{cursor: "7:100"},
		failures:   &fakeFailures{counts: map[string]int64{}},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Runs:            h.runs,
		Accounts:        h.accounts,
		Users:           h.users,
		Emails:          h.emails,
		Classifications: h.classes,
		Senders:         h.senders,
		Rules:           h.rules,
		Classifier:      h.classifier,
		Sources: func(*model.Account) (mailsource.Source, error) {
			return h.source, nil
		},
		Failures: h.failures,
	}
}

func (h *harness) orchestrator(cfg Config) *Orchestrator {
	o := New(h.deps(), cfg, nil)
	o.now = func() time.Time { return testNow }
	return o
}

func mail(id, thread, from, subject string, age time.Duration) model.NormalizedEmail {
	return model.NormalizedEmail{
		ID:         id,
		AccountID:  10,
		UserID:     1,
		ProviderID: id,
		ThreadID:   thread,
		MessageID:  "<" + id + "@mail>",
		From:       model.Address{Email: from},
		To:         []model.Address{{Email: "me@acme.io"}},
		Subject:    subject,
		Body:       "Hello, see below.",
		ReceivedAt: testNow.Add(-age),
	}
}
