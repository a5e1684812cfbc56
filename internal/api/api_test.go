package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/internal/pipeline"
	"mailtriage/internal/repository"
	"mailtriage/internal/service"
	"mailtriage/pkg/trace"
	"mailtriage/pkg/util"
)

const testSecret = "api-test-secret"

type fakeTrigger struct {
	runID string
	err   error
	users []int
}

func (f *fakeTrigger) Trigger(_ context.Context, userID int) (string, error) {
	f.users = append(f.users, userID)
	return f.runID, f.err
}

type fakeRuns map[string]*model.Run

func (f fakeRuns) Get(_ context.Context, id string) (*model.Run, error) {
	r, ok := f[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

type fakeInbox struct {
	filter  service.ListFilter
	patched service.OverridePatch
	handled []string
}

func (f *fakeInbox) List(_ context.Context, _ int, filter service.ListFilter) ([]service.ClassifiedEmail, error) {
	f.filter = filter
	return []service.ClassifiedEmail{{
		ClassificationResult: model.ClassificationResult{EmailID: "e1", Category: model.CategoryFinance, Priority: 2},
		EffectivePriority:    1,
		EscalationReasons:    []string{"deadline within 48h"},
	}}, nil
}

func (f *fakeInbox) Override(_ context.Context, userID int, emailID string, patch service.OverridePatch) (*model.ClassificationResult, error) {
	if emailID == "missing" {
		return nil, repository.ErrNotFound
	}
	if patch.Category == nil && patch.Priority == nil {
		return nil, service.ErrInvalidOverride
	}
	f.patched = patch
	return &model.ClassificationResult{EmailID: emailID, UserID: userID, Category: *patch.Category, UserOverridden: true}, nil
}

func (f *fakeInbox) MarkHandled(_ context.Context, _ int, emailID string) error {
	if emailID == "missing" {
		return repository.ErrNotFound
	}
	f.handled = append(f.handled, emailID)
	return nil
}

type fakeRules struct{ rules []model.UserRule }

func (f *fakeRules) List(context.Context, int) ([]model.UserRule, error) { return f.rules, nil }

func (f *fakeRules) Create(_ context.Context, r *model.UserRule) error {
	r.ID = len(f.rules) + 1
	f.rules = append(f.rules, *r)
	return nil
}

func (f *fakeRules) Delete(_ context.Context, _ int, id int) error {
	for i, r := range f.rules {
		if r.ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fixture struct {
	router  *gin.Engine
	trigger *fakeTrigger
	inbox   *fakeInbox
	rules   *fakeRules
}

func newFixture(t *testing.T, db Pinger) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		trigger: &fakeTrigger{runID: "run-1"},
		inbox:   &fakeInbox{},
		rules:   &fakeRules{},
	}
	runs := fakeRuns{
		"run-1": {ID: "run-1", UserID: 7, Status: model.RunCompleted, Fetched: 3, Classified: 3},
		"run-2": {ID: "run-2", UserID: 8, Status: model.RunRunning},
	}
	logger := zap.NewNop()
	f.router = NewRouter(Handlers{
		Runs:            NewRunHandler(f.trigger, runs, logger),
		Classifications: NewClassificationHandler(f.inbox, logger),
		Rules:           NewRuleHandler(f.rules, logger),
	}, testSecret, db, logger)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	token, err := util.GenerateJWT(7, testSecret, 0)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, pinger{})

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"bad token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/classifications", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		token, err := util.GenerateJWT(7, "other-secret", 0)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/classifications", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	newFixture(t, pinger{}).router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName))

	w = httptest.NewRecorder()
	newFixture(t, pinger{err: errors.New("down")}).router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRuns(t *testing.T) {
	f := newFixture(t, pinger{})

	w := f.do(t, http.MethodPost, "/runs", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"run_id":"run-1"}`, w.Body.String())
	assert.Equal(t, []int{7}, f.trigger.users)

	f.trigger.err = pipeline.ErrRunInProgress
	w = f.do(t, http.MethodPost, "/runs", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"run-1"`)

	f.trigger.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodPost, "/runs", nil).Code)

	w = f.do(t, http.MethodGet, "/runs/run-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 3, run.Classified)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/runs/run-2", nil).Code, "other user's run")
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/runs/nope", nil).Code)
}

func TestClassifications(t *testing.T) {
	f := newFixture(t, pinger{})

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/classifications?category=finance&max_priority=2&include_handled=true&limit=20", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.ListFilter{Category: model.CategoryFinance, MaxPriority: 2, IncludeHandled: true, Limit: 20}, f.inbox.filter)

		var body struct {
			Classifications []service.ClassifiedEmail `json:"classifications"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Classifications, 1)
		assert.Equal(t, 1, body.Classifications[0].EffectivePriority)
	})

	t.Run("bad query", func(t *testing.T) {
		for _, q := range []string{"category=bogus", "max_priority=x", "include_handled=maybe", "limit=-1"} {
			assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/classifications?"+q, nil).Code, q)
		}
	})

	t.Run("override", func(t *testing.T) {
		w := f.do(t, http.MethodPatch, "/classifications/e1", map[string]any{"category": "finance", "priority": 2})
		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, f.inbox.patched.Priority)
		assert.Equal(t, 2, *f.inbox.patched.Priority)

		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, "/classifications/e1", map[string]any{}).Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPatch, "/classifications/missing", map[string]any{"category": "fyi"}).Code)
	})

	t.Run("handled", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/classifications/e1/handled", nil).Code)
		assert.Equal(t, []string{"e1"}, f.inbox.handled)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/classifications/missing/handled", nil).Code)
	})
}

func TestRules(t *testing.T) {
	f := newFixture(t, pinger{})

	w := f.do(t, http.MethodGet, "/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rules":[]}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/rules", map[string]any{
		"name":        "newsletters",
		"sender_glob": "*@news.example.com",
		"category":    "newsletter",
		"priority":    5,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, f.rules.rules, 1)
	created := f.rules.rules[0]
	assert.Equal(t, 7, created.UserID)
	assert.True(t, created.Active)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"sender_glob": "*@x.com", "priority": 3}},
		{"no condition", map[string]any{"name": "r", "priority": 3}},
		{"bad glob", map[string]any{"name": "r", "sender_glob": "[", "priority": 3}},
		{"bad priority", map[string]any{"name": "r", "sender_glob": "*@x.com", "priority": 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/rules", tt.body).Code)
		})
	}

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/rules/abc", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/rules/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/rules/1", nil).Code)
}
