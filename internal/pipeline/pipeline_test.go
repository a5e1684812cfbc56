package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mailtriage/internal/mailsource"
	"mailtriage/internal/model"
	"mailtriage/pkg/mq"
	"mailtriage/pkg/util"
)

func TestSelfTunedThreshold(t *testing.T) {
	cfg := DefaultTuningConfig()
	tests := []struct {
		name      string
		base      float64
		total     int
		overrides int
		want      float64
	}{
		{"too few samples", 0.7, 9, 9, 0.7},
		{"rate at trigger", 0.7, 10, 2, 0.7},
		{"rate below trigger", 0.7, 100, 5, 0.7},
		{"base already at floor", 0.4, 100, 80, 0.4},
		{"clamped to floor", 0.7, 10, 10, 0.4},
		{"proportional", 0.7, 100, 30, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SelfTunedThreshold(tt.base, tt.total, tt.overrides, cfg), 1e-9)
		})
	}

	t.Run("forty percent is strictly lower and above floor", func(t *testing.T) {
		got := SelfTunedThreshold(0.7, 50, 20, cfg)
		assert.Less(t, got, 0.7)
		assert.GreaterOrEqual(t, got, 0.4)
	})
}

func TestTunedThresholds_OnlyMovedCategories(t *testing.T) {
	stats := []model.CategoryStats{
		{Category: model.CategoryTask, Total: 50, Overrides: 25},
		{Category: model.CategoryFinance, Total: 50, Overrides: 1},
		{Category: "bogus", Total: 50, Overrides: 50},
	}
	got := TunedThresholds(stats, DefaultTuningConfig())
	require.Len(t, got, 1)
	assert.Contains(t, got, model.CategoryTask)
}

func TestBuildFeedback(t *testing.T) {
	overrides := []model.Override{
		{SenderEmail: "a@x.com", Subject: "one", FromCategory: model.CategoryFYI, ToCategory: model.CategoryTask},
		{SenderEmail: "b@y.com", Subject: "two", FromCategory: model.CategoryPromotion, ToCategory: model.CategoryFinance},
		{SenderEmail: "b@y.com", Subject: "three", FromCategory: model.CategoryPromotion, ToCategory: model.CategoryFinance},
		{SenderEmail: "c@z.com", Subject: "four", FromCategory: model.CategorySpam, ToCategory: model.CategoryPersonal},
	}

	got := BuildFeedback(overrides, map[string]bool{"b@y.com": true}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b@y.com", got[0].Sender, "same-sender overrides come first")
	assert.Equal(t, "two", got[0].Subject)
	assert.Equal(t, "a@x.com", got[1].Sender, "duplicate sender+category pattern is dropped")

	assert.Nil(t, BuildFeedback(overrides, nil, 0))
	assert.Nil(t, BuildFeedback(nil, nil, 8))
}

func TestBuildInput(t *testing.T) {
	id := Identity{"me@acme.io": true}
	e := mail("e3", "t1", "ana@partner.org", "Re: plan", 2*time.Hour)
	e.InReplyTo = "<mine@mail>"
	e.Body = "Just checking in on this, it is urgent."
	e.Cc = []model.Address{{Email: "bo@partner.org"}}

	mine := mail("m1", "t1", "me@acme.io", "plan", 5*time.Hour)
	mine.MessageID = "<mine@mail>"
	mine.FromUser = true
	later := mail("m2", "t1", "me@acme.io", "Re: plan", time.Hour)
	later.FromUser = true
	other := mail("o1", "t1", "bo@partner.org", "Re: plan", 3*time.Hour)

	in := BuildInput(e, []model.NormalizedEmail{mine, other, e, later}, nil, id, testNow)

	assert.Equal(t, 3, in.Thread.SiblingCount)
	assert.Equal(t, []string{"ana@partner.org", "bo@partner.org", "me@acme.io"}, in.Thread.Participants)
	assert.True(t, in.Thread.UserReplied)
	assert.True(t, in.Thread.IsReplyToUser)
	assert.False(t, in.Thread.ThreadFatigue)
	assert.Equal(t, later.ReceivedAt, in.Thread.LatestMessageAt)
	assert.True(t, in.DirectlyAddressed)
	assert.True(t, in.IsFollowUp)
	assert.True(t, in.HasEscalation)
	assert.False(t, in.IsForwarded)
	assert.Equal(t, 2, in.RecipientCount)
	assert.Zero(t, in.Sender.TotalEmails)

	t.Run("fatigue", func(t *testing.T) {
		thread := []model.NormalizedEmail{e}
		for i := 0; i < fatigueSiblings; i++ {
			thread = append(thread, mail(string(rune('a'+i)), "t1", "x@y.com", "Re: plan", 10*time.Hour))
		}
		assert.True(t, BuildInput(e, thread, nil, id, testNow).Thread.ThreadFatigue)
	})

	t.Run("stale recent window", func(t *testing.T) {
		p := &model.SenderProfile{TotalEmails: 40, RecentCount: 6, RecentSince: testNow.Add(-10 * 24 * time.Hour), IsVIP: true}
		in := BuildInput(e, nil, p, id, testNow)
		assert.Equal(t, 40, in.Sender.TotalEmails)
		assert.Zero(t, in.Sender.RecentCount)
		assert.True(t, in.Sender.IsVIP)
	})
}

func TestUpdateProfile(t *testing.T) {
	domains := []string{"acme.io"}

	t.Run("created lazily", func(t *testing.T) {
		e := mail("e1", "t1", "Ana@Partner.org", "hi", time.Hour)
		e.From.Name = "Ana"
		p := UpdateProfile(nil, e, model.ClassificationResult{Topics: []string{"Budget", "budget"}}, domains, testNow)
		assert.Equal(t, "ana@partner.org", p.Email)
		assert.Equal(t, "Ana", p.DisplayName)
		assert.Equal(t, 1, p.TotalEmails)
		assert.Equal(t, 1, p.RecentCount)
		assert.Equal(t, []string{"budget"}, p.Topics)
		assert.Equal(t, model.RelationshipUnset, p.Relationship)
		assert.Equal(t, testNow, p.CreatedAt)
	})

	t.Run("recent window resets", func(t *testing.T) {
		p := &model.SenderProfile{TotalEmails: 10, RecentCount: 4, RecentSince: testNow.Add(-8 * 24 * time.Hour)}
		p = UpdateProfile(p, mail("e1", "t1", "bo@acme.io", "hi", time.Hour), model.ClassificationResult{}, domains, testNow)
		assert.Equal(t, 11, p.TotalEmails)
		assert.Equal(t, 1, p.RecentCount)
		assert.Equal(t, model.RelationshipInternal, p.Relationship)
	})

	t.Run("inference", func(t *testing.T) {
		news := mail("e1", "t1", "editor@weekly.com", "issue 12", time.Hour)
		news.ListID = "<weekly.list>"
		assert.Equal(t, model.RelationshipNewsletter, UpdateProfile(nil, news, model.ClassificationResult{}, domains, testNow).Relationship)

		bot := mail("e2", "t2", "noreply@shop.com", "order", time.Hour)
		assert.Equal(t, model.RelationshipAutomated, UpdateProfile(nil, bot, model.ClassificationResult{}, domains, testNow).Relationship)
	})

	t.Run("manual relationship kept", func(t *testing.T) {
		p := &model.SenderProfile{Email: "noreply@shop.com", Relationship: model.RelationshipManager, RelationshipManual: true, RecentSince: testNow}
		p = UpdateProfile(p, mail("e1", "t1", "noreply@shop.com", "order", time.Hour), model.ClassificationResult{}, domains, testNow)
		assert.Equal(t, model.RelationshipManager, p.Relationship)
	})
}

func TestMatchesAutoAction(t *testing.T) {
	news := model.ClassificationResult{Category: model.CategoryNewsletter, Priority: 4}
	tests := []struct {
		name   string
		action model.AutoAction
		c      model.ClassificationResult
		want   bool
	}{
		{"category and priority", model.AutoAction{Category: model.CategoryNewsletter, MinPriority: 4}, news, true},
		{"priority too urgent", model.AutoAction{Category: model.CategoryNewsletter, MinPriority: 5}, news, false},
		{"other category", model.AutoAction{Category: model.CategoryPromotion}, news, false},
		{"any", model.AutoAction{}, news, true},
		{"handled", model.AutoAction{}, model.ClassificationResult{Handled: true}, false},
		{"overridden", model.AutoAction{}, model.ClassificationResult{UserOverridden: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesAutoAction(tt.action, tt.c))
		})
	}
}

func TestRunNow_RulesBypassClassifier(t *testing.T) {
	h := newHarness()
	cat := model.CategoryShipping
	h.rules.rules = []model.UserRule{{ID: 1, Name: "carrier", Active: true, SenderGlob: "*@ups.com", Category: &cat, AutoHandle: true}}
	h.source.emails = []model.NormalizedEmail{
		mail("e1", "t1", "track@ups.com", "Your parcel", time.Hour),
		mail("e2", "t2", "ana@partner.org", "Budget review", 2*time.Hour),
	}

	run, err := h.orchestrator(DefaultConfig()).RunNow(context.Background(), 1, TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Fetched)
	assert.Equal(t, 2, run.Classified)
	assert.Equal(t, "7:100", h.accounts.cursors[10])

	require.Equal(t, 1, h.classifier.callCount())
	assert.Equal(t, []string{"e2"}, h.classifier.inputIDs(0))

	ruled, ok := h.classes.row("e1")
	require.True(t, ok)
	assert.Equal(t, model.VersionUserRule, ruled.Version)
	assert.Equal(t, model.CategoryShipping, ruled.Category)
	assert.Equal(t, 1.0, ruled.Confidence)
	assert.True(t, ruled.Handled)
	assert.Equal(t, []string{"rule:carrier"}, h.classes.reasons["e1"])

	assert.Equal(t, []string{reasonInitial}, h.classes.reasons["e2"])
	require.Contains(t, h.senders.profiles, "ana@partner.org")
	assert.Equal(t, 1, h.senders.profiles["ana@partner.org"].TotalEmails)
}

func TestClassifyEmails_SkipsUserOverridden(t *testing.T) {
	h := newHarness()
	e := mail("e1", "t1", "ana@partner.org", "Budget", time.Hour)
	h.emails.emails = []model.NormalizedEmail{e}
	h.classes.rows["e1"] = model.ClassificationResult{EmailID: "e1", UserID: 1, Category: model.CategoryPersonal, UserOverridden: true}
	o := h.orchestrator(DefaultConfig())
	b := o.classifyEmails(context.Background(), 1, []model.NormalizedEmail{e}, Identity{}, reasonInitial, true, o.logger)

	assert.Empty(t, b.persisted)
	assert.Zero(t, b.failed)
	assert.Zero(t, h.classifier.callCount())
	row, _ := h.classes.row("e1")
	assert.Equal(t, model.CategoryPersonal, row.Category)
}

func TestRunNow_StaleFailover(t *testing.T) {
	t.Run("fresh run blocks", func(t *testing.T) {
		h := newHarness()
		h.runs.runs["r0"] = &model.Run{ID: "r0", UserID: 1, Status: model.RunRunning, StartedAt: testNow.Add(-5 * time.Minute)}

		run, err := h.orchestrator(DefaultConfig()).RunNow(context.Background(), 1, TriggerCLI)
		require.ErrorIs(t, err, ErrRunInProgress)
		assert.Equal(t, "r0", run.ID)
		assert.Len(t, h.runs.byUser(1), 1)
	})

	t.Run("stale run superseded", func(t *testing.T) {
		h := newHarness()
		h.runs.runs["r0"] = &model.Run{ID: "r0", UserID: 1, Status: model.RunRunning, StartedAt: testNow.Add(-45 * time.Minute)}

		run, err := h.orchestrator(DefaultConfig()).RunNow(context.Background(), 1, TriggerCLI)
		require.NoError(t, err)
		assert.NotEqual(t, "r0", run.ID)

		old, err := h.runs.Get(context.Background(), "r0")
		require.NoError(t, err)
		assert.Equal(t, model.RunFailed, old.Status)
		assert.Equal(t, staleRunMessage, old.Error)
	})
}

func TestRunNow_SyncFailures(t *testing.T) {
	t.Run("all accounts fail", func(t *testing.T) {
		h := newHarness()
		h.source.err = errors.New("connection refused")

		run, err := h.orchestrator(DefaultConfig()).RunNow(context.Background(), 1, TriggerCLI)
		require.Error(t, err)
		assert.Equal(t, model.RunFailed, run.Status)
		assert.Contains(t, run.Error, "connection refused")
		assert.Zero(t, h.classifier.callCount())
	})

	t.Run("one of two accounts fails", func(t *testing.T) {
		h := newHarness()
		h.accounts.accounts[1] = append(h.accounts.accounts[1], model.Account{ID: 11, UserID: 1, Provider: model.ProviderGmail, Email: "me@gmail.com"})
		broken := &fakeSource{err: mailsource.ErrUnsupportedProvider}
		h.source.emails = []model.NormalizedEmail{mail("e1", "t1", "ana@partner.org", "hi", time.Hour)}
		deps := h.deps()
		deps.Sources = func(a *model.Account) (mailsource.Source, error) {
			if a.ID == 11 {
				return broken, nil
			}
			return h.source, nil
		}
		o := New(deps, DefaultConfig(), nil)
		o.now = func() time.Time { return testNow }

		run, err := o.RunNow(context.Background(), 1, TriggerCLI)
		require.NoError(t, err)
		assert.Equal(t, model.RunCompleted, run.Status)
		assert.Equal(t, 1, run.Fetched)
		assert.NotContains(t, h.accounts.cursors, 11)
	})
}

func TestRunNow_HotThreads(t *testing.T) {
	setup := func(latestBody string) *harness {
		h := newHarness()
		older := []model.NormalizedEmail{
			mail("o1", "t1", "ana@partner.org", "Outage", 48*time.Hour),
			mail("o2", "t1", "bo@partner.org", "Re: Outage", 47*time.Hour),
			mail("o3", "t1", "cy@partner.org", "Re: Outage", 46*time.Hour),
		}
		h.emails.emails = older
		h.classes.rows["o1"] = model.ClassificationResult{EmailID: "o1", UserID: 1, Category: model.CategoryFYI, ClassifiedAt: testNow.Add(-48 * time.Hour)}
		h.classes.rows["o2"] = model.ClassificationResult{EmailID: "o2", UserID: 1, Category: model.CategoryFYI, Handled: true}
		h.classes.rows["o3"] = model.ClassificationResult{EmailID: "o3", UserID: 1, Category: model.CategoryPersonal, UserOverridden: true}

		latest := mail("n3", "t1", "ana@partner.org", "Re: Outage", time.Hour)
		latest.Body = latestBody
		h.source.emails = []model.NormalizedEmail{
			mail("n1", "t1", "bo@partner.org", "Re: Outage", 3*time.Hour),
			mail("n2", "t1", "cy@partner.org", "Re: Outage", 2*time.Hour),
			latest,
		}
		return h
	}

	t.Run("reclassifies older siblings", func(t *testing.T) {
		h := setup("Still down on our side.")
		run, err := h.orchestrator(DefaultConfig()).RunNow(context.Background(), 1, TriggerCLI)
		require.NoError(t, err)

		require.Equal(t, 2, h.classifier.callCount())
		assert.Equal(t, []string{"o1"}, h.classifier.inputIDs(1))
		assert.Equal(t, []string{reasonHotThread}, h.classes.reasons["o1"])
		assert.Equal(t, 4, run.Classified)

		o3, _ := h.classes.row("o3")
		assert.Equal(t, model.CategoryPersonal, o3.Category)
		assert.Empty(t, h.classes.reasons["o3"])
	})

	t.Run("resolution marks older siblings", func(t *testing.T) {
		h := setup("Thanks all, this is resolved now.")
		_, err := h.orchestrator(DefaultConfig()).RunNow(context.Background(), 1, TriggerCLI)
		require.NoError(t, err)

		assert.Equal(t, 1, h.classifier.callCount())
		assert.Equal(t, []string{"o1"}, h.classes.resolved)
		o1, _ := h.classes.row("o1")
		assert.True(t, o1.ThreadResolved)
	})
}

func TestRunNow_AutoActions(t *testing.T) {
	h := newHarness()
	h.source.emails = []model.NormalizedEmail{
		mail("e1", "t1", "news@weekly.com", "Weekly digest", time.Hour),
		mail("e2", "t2", "ana@partner.org", "Contract", time.Hour),
	}
	cfg := DefaultConfig()
	cfg.AutoActions = []model.AutoAction{{Category: model.CategoryNewsletter, MinPriority: 4, Action: model.ActionMarkHandled}}

	_, err := h.orchestrator(cfg).RunNow(context.Background(), 1, TriggerCLI)
	require.NoError(t, err)

	news, _ := h.classes.row("e1")
	assert.True(t, news.Handled)
	task, _ := h.classes.row("e2")
	assert.False(t, task.Handled)
}

func TestRunNow_PassesFeedbackAndThresholds(t *testing.T) {
	h := newHarness()
	h.source.emails = []model.NormalizedEmail{mail("e1", "t1", "ana@partner.org", "Budget", time.Hour)}
	h.classes.overrides = []model.Override{
		{SenderEmail: "zed@other.com", FromCategory: model.CategoryFYI, ToCategory: model.CategoryTask},
		{SenderEmail: "ana@partner.org", FromCategory: model.CategoryPromotion, ToCategory: model.CategoryFinance},
	}
	h.classes.stats = []model.CategoryStats{{Category: model.CategoryTask, Total: 20, Overrides: 10}}

	_, err := h.orchestrator(DefaultConfig()).RunNow(context.Background(), 1, TriggerCLI)
	require.NoError(t, err)

	require.Len(t, h.classifier.opts, 1)
	opts := h.classifier.opts[0]
	require.Len(t, opts.Feedback, 2)
	assert.Equal(t, "ana@partner.org", opts.Feedback[0].Sender)
	assert.Contains(t, opts.Thresholds, model.CategoryTask)
	assert.Equal(t, DefaultConfig().Version, opts.Version)
}

func TestRunAll(t *testing.T) {
	h := newHarness()
	h.users.ids = []int{1, 2, 3}
	h.accounts.accounts[2] = []model.Account{{ID: 20, UserID: 2, Provider: model.ProviderIMAP}}
	h.accounts.accounts[3] = []model.Account{{ID: 30, UserID: 3, Provider: model.ProviderIMAP}}
	h.failures.counts[util.FormatRunFailureKey(1)] = 5
	h.failures.counts[util.FormatRunFailureKey(3)] = 2

	broken := &fakeSource{err: errors.New("auth failed")}
	deps := h.deps()
	deps.Sources = func(a *model.Account) (mailsource.Source, error) {
		if a.UserID == 2 {
			return broken, nil
		}
		return h.source, nil
	}
	o := New(deps, DefaultConfig(), nil)
	o.now = func() time.Time { return testNow }

	require.NoError(t, o.RunAll(context.Background()))

	assert.Empty(t, h.runs.byUser(1), "user over the failure limit is skipped")
	require.Len(t, h.runs.byUser(2), 1)
	assert.Equal(t, model.RunFailed, h.runs.byUser(2)[0].Status)
	assert.Equal(t, int64(1), h.failures.counts[util.FormatRunFailureKey(2)])
	require.Len(t, h.runs.byUser(3), 1)
	assert.Equal(t, model.RunCompleted, h.runs.byUser(3)[0].Status)
	assert.NotContains(t, h.failures.counts, util.FormatRunFailureKey(3))
}

func TestTrigger_InProcess(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness()
	h.source.emails = []model.NormalizedEmail{mail("e1", "t1", "ana@partner.org", "Budget", time.Hour)}
	o := h.orchestrator(DefaultConfig())

	runID, err := o.Trigger(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	o.Wait()
	o.Close()

	run, err := h.runs.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, TriggerManual, run.Trigger)
	assert.Equal(t, 1, run.Classified)
}

func TestTrigger_Publishes(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness()
	pub := &fakePublisher{}
	deps := h.deps()
	deps.Publisher = pub
	o := New(deps, DefaultConfig(), nil)
	o.now = func() time.Time { return testNow }
	defer o.Close()

	runID, err := o.Trigger(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, mq.RoutingRunRequested, pub.keys[0])
	assert.Equal(t, RunRequest{RunID: runID, UserID: 1}, pub.payloads[0])

	run, err := h.runs.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, run.Status)

	_, err = o.Trigger(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestHandleRunRequested(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(DefaultConfig())
	ctx := context.Background()

	assert.Error(t, o.HandleRunRequested(ctx, json.RawMessage(`{`)))
	assert.Error(t, o.HandleRunRequested(ctx, json.RawMessage(`{"run_id":""}`)))
	assert.NoError(t, o.HandleRunRequested(ctx, json.RawMessage(`{"run_id":"missing","user_id":1}`)))

	done := testNow.Add(-time.Minute)
	h.runs.runs["r-done"] = &model.Run{ID: "r-done", UserID: 1, Status: model.RunCompleted, StartedAt: testNow.Add(-time.Hour), CompletedAt: &done}
	require.NoError(t, o.HandleRunRequested(ctx, json.RawMessage(`{"run_id":"r-done","user_id":1}`)))
	assert.Zero(t, h.classifier.callCount())

	h.source.emails = []model.NormalizedEmail{mail("e1", "t1", "ana@partner.org", "Budget", time.Hour)}
	h.runs.runs["r1"] = &model.Run{ID: "r1", UserID: 1, Status: model.RunRunning, StartedAt: testNow}
	require.NoError(t, o.HandleRunRequested(ctx, json.RawMessage(`{"run_id":"r1","user_id":1}`)))

	run, err := h.runs.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 1, run.Classified)
}
