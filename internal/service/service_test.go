package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/model"
	"mailtriage/internal/priority"
	"mailtriage/internal/repository"
	"mailtriage/pkg/util"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) // Wednesday

type fakeInbox struct {
	rows   []repository.InboxRow
	filter repository.InboxFilter
}

func (f *fakeInbox) List(_ context.Context, _ int, filter repository.InboxFilter) ([]repository.InboxRow, error) {
	f.filter = filter
	return f.rows, nil
}

type fakeEmails struct {
	threads map[string][]model.NormalizedEmail
	byID    map[string]model.NormalizedEmail
}

func (f *fakeEmails) ListByThreads(context.Context, int, []string) (map[string][]model.NormalizedEmail, error) {
	return f.threads, nil
}

func (f *fakeEmails) FindByID(_ context.Context, _ int, id string) (*model.NormalizedEmail, error) {
	e, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

type fakeStore struct {
	rows      map[string]model.ClassificationResult
	applied   []model.ClassificationResult
	overrides []model.Override
}

func (f *fakeStore) Get(_ context.Context, _ int, id string) (*model.ClassificationResult, error) {
	r, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (f *fakeStore) ApplyOverride(_ context.Context, res model.ClassificationResult, o model.Override) error {
	f.applied = append(f.applied, res)
	f.overrides = append(f.overrides, o)
	f.rows[res.EmailID] = res
	return nil
}

func (f *fakeStore) MarkHandled(_ context.Context, _ int, id string) error {
	r, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.Handled = true
	f.rows[id] = r
	return nil
}

func row(id string, stored int, age time.Duration) repository.InboxRow {
	return repository.InboxRow{
		Email: model.NormalizedEmail{
			ID:         id,
			UserID:     1,
			ThreadID:   "t-" + id,
			From:       model.Address{Email: "ana@partner.org"},
			Subject:    "Subject " + id,
			Body:       "Hello.",
			ReceivedAt: testNow.Add(-age),
		},
		Classification: model.ClassificationResult{
			EmailID:    id,
			UserID:     1,
			Priority:   stored,
			Category:   model.CategoryFYI,
			Confidence: 0.9,
		},
	}
}

func newInbox(rows []repository.InboxRow, threads map[string][]model.NormalizedEmail) (*InboxService, *fakeInbox) {
	inbox := &fakeInbox{rows: rows}
	s := NewInboxService(inbox, &fakeEmails{threads: threads}, &fakeStore{}, priority.DefaultConfig(), []string{"acme.io"}, nil)
	s.now = func() time.Time { return testNow }
	return s, inbox
}

func TestInboxService_List_SortsByEffectivePriority(t *testing.T) {
	due := testNow.Add(24 * time.Hour)
	urgent := row("a", 4, time.Hour)
	urgent.Classification.Deadline = &due

	rows := []repository.InboxRow{
		row("b", 3, 2*time.Hour),
		row("c", 3, time.Hour),
		urgent,
	}
	s, _ := newInbox(rows, nil)

	got, err := s.List(context.Background(), 1, ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].EmailID)
	assert.Equal(t, 1, got[0].EffectivePriority)
	assert.NotEmpty(t, got[0].EscalationReasons)
	assert.Equal(t, "c", got[1].EmailID, "ties break on received time, newest first")
	assert.Equal(t, "b", got[2].EmailID)
	assert.NotNil(t, got[2].EscalationReasons)
}

func TestInboxService_List_Filters(t *testing.T) {
	rows := []repository.InboxRow{row("a", 2, time.Hour), row("b", 5, time.Hour)}
	s, inbox := newInbox(rows, nil)

	got, err := s.List(context.Background(), 1, ListFilter{Category: model.CategoryFYI, MaxPriority: 3, IncludeHandled: true, Limit: 50})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].EmailID)
	assert.Equal(t, repository.InboxFilter{Category: model.CategoryFYI, IncludeHandled: true, Limit: 50}, inbox.filter)
}

func TestSignals(t *testing.T) {
	r := row("a", 3, 48*time.Hour)
	r.Email.IsStarred = true
	r.Email.Subject = "Follow-up: contract"
	r.Classification.NeedsReply = true
	r.Sender = &model.SenderProfile{IsVIP: true, Relationship: model.RelationshipManager}

	reply := model.NormalizedEmail{ID: "me1", FromUser: true, ReceivedAt: testNow.Add(-time.Hour)}
	sig := Signals(r, []model.NormalizedEmail{r.Email, reply}, []string{"acme.io"}, testNow)

	assert.True(t, sig.Starred)
	assert.True(t, sig.VIP)
	assert.True(t, sig.Colleague)
	assert.True(t, sig.UserReplied)
	assert.True(t, sig.FollowUp)
	assert.False(t, sig.Automated)
	assert.False(t, sig.CompanyDomain)

	bot := row("b", 3, time.Hour)
	bot.Email.From.Email = "noreply@shop.com"
	assert.True(t, Signals(bot, nil, nil, testNow).Automated)
}

func TestInboxService_Override(t *testing.T) {
	store := &fakeStore{rows: map[string]model.ClassificationResult{
		"e1": {EmailID: "e1", UserID: 1, Category: model.CategoryPromotion, Priority: 5, Confidence: 0.8, Version: "llm-v1"},
	}}
	emails := &fakeEmails{byID: map[string]model.NormalizedEmail{
		"e1": {ID: "e1", From: model.Address{Email: "Deals@Shop.com"}, Subject: "Invoice 42"},
	}}
	s := NewInboxService(&fakeInbox{}, emails, store, priority.DefaultConfig(), nil, nil)
	s.now = func() time.Time { return testNow }

	cat := model.CategoryFinance
	p := 2
	res, err := s.Override(context.Background(), 1, "e1", OverridePatch{Category: &cat, Priority: &p})
	require.NoError(t, err)
	assert.True(t, res.UserOverridden)
	assert.Equal(t, model.VersionUser, res.Version)
	assert.Equal(t, model.CategoryFinance, res.Category)

	require.Len(t, store.overrides, 1)
	o := store.overrides[0]
	assert.Equal(t, "deals@shop.com", o.SenderEmail)
	assert.Equal(t, model.CategoryPromotion, o.FromCategory)
	assert.Equal(t, model.CategoryFinance, o.ToCategory)
	assert.Equal(t, 5, o.FromPriority)
	assert.Equal(t, 2, o.ToPriority)

	t.Run("validation", func(t *testing.T) {
		bad := model.Category("bogus")
		zero := 0
		for _, patch := range []OverridePatch{{}, {Category: &bad}, {Priority: &zero}} {
			_, err := s.Override(context.Background(), 1, "e1", patch)
			assert.ErrorIs(t, err, ErrInvalidOverride)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := s.Override(context.Background(), 1, "nope", OverridePatch{Category: &cat})
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("mark handled", func(t *testing.T) {
		require.NoError(t, s.MarkHandled(context.Background(), 1, "e1"))
		assert.True(t, store.rows["e1"].Handled)
		assert.ErrorIs(t, s.MarkHandled(context.Background(), 1, "nope"), repository.ErrNotFound)
	})
}

type fakeUsers struct{ ids map[string]int }

func (f *fakeUsers) EnsureUser(_ context.Context, email string) (int, error) {
	if id, ok := f.ids[email]; ok {
		return id, nil
	}
	id := len(f.ids) + 1
	f.ids[email] = id
	return id, nil
}

type fakeAccounts struct{ created []model.Account }

func (f *fakeAccounts) Create(_ context.Context, a *model.Account) error {
	a.ID = len(f.created) + 1
	f.created = append(f.created, *a)
	return nil
}

func TestAuthService(t *testing.T) {
	users := &fakeUsers{ids: map[string]int{}}
	accounts := &fakeAccounts{}
	s := NewAuthService(users, accounts, "test-secret", time.Hour)

	token, userID, err := s.IssueToken(context.Background(), " Me@Acme.io ")
	require.NoError(t, err)
	assert.Equal(t, 1, userID)
	parsed, err := util.ParseJWT(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, 1, parsed)

	_, _, err = s.IssueToken(context.Background(), "")
	assert.Error(t, err)

	a := &model.Account{Provider: model.ProviderIMAP, Email: "Me@Acme.io", Host: "imap.acme.io", Username: "me"}
	require.NoError(t, s.AddAccount(context.Background(), "me@acme.io", a))
	assert.Equal(t, 1, a.UserID)
	assert.Equal(t, 993, a.Port)
	assert.True(t, a.Active)
	assert.Equal(t, "me@acme.io", a.Email)

	assert.Error(t, s.AddAccount(context.Background(), "me@acme.io", &model.Account{Provider: "pop3", Email: "x@y.z"}))
	assert.Error(t, s.AddAccount(context.Background(), "me@acme.io", &model.Account{Provider: model.ProviderGmail, Email: "x@gmail.com"}))
}
