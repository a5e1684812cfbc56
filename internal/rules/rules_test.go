package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/model"
)

func ptr[T any](v T) *T { return &v }

func email(from, subject string) model.NormalizedEmail {
	return model.NormalizedEmail{ID: "e1", UserID: 1, From: model.Address{Email: from}, Subject: subject}
}

func TestMatch_SenderGlobOnly(t *testing.T) {
	r := model.UserRule{Active: true, SenderGlob: "*@billing.example.com", Category: ptr(model.CategoryFinance)}

	assert.True(t, Match(r, email("invoices@billing.example.com", "anything at all")))
	assert.True(t, Match(r, email("No-Reply@Billing.Example.com", "")))
	assert.False(t, Match(r, email("bob@example.com", "billing")))
	assert.False(t, Match(r, email("x@billing.example.com.evil.io", "")))
}

func TestMatch_Conditions(t *testing.T) {
	list := email("news@shop.com", "Weekly DEALS")
	list.ListID = "<deals.shop.com>"
	attached := email("ana@x.com", "contract")
	attached.HasAttachments = true

	tests := []struct {
		name string
		rule model.UserRule
		e    model.NormalizedEmail
		want bool
	}{
		{"subject substring case-insensitive", model.UserRule{Active: true, SubjectContains: "deals"}, list, true},
		{"subject miss", model.UserRule{Active: true, SubjectContains: "invoice"}, list, false},
		{"mailing list true", model.UserRule{Active: true, IsMailingList: ptr(true)}, list, true},
		{"mailing list false", model.UserRule{Active: true, IsMailingList: ptr(false)}, list, false},
		{"attachment", model.UserRule{Active: true, HasAttachment: ptr(true)}, attached, true},
		{"no attachment", model.UserRule{Active: true, HasAttachment: ptr(true)}, list, false},
		{"inactive", model.UserRule{Active: false, SubjectContains: "deals"}, list, false},
		{"all conditions", model.UserRule{Active: true, SenderGlob: "*@shop.com", SubjectContains: "weekly", IsMailingList: ptr(true)}, list, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.rule, tt.e))
		})
	}
}

func TestFirst_ByPosition(t *testing.T) {
	rs := []model.UserRule{
		{ID: 2, Position: 2, Active: true, SenderGlob: "*@x.com", Priority: ptr(5)},
		{ID: 1, Position: 1, Active: true, SenderGlob: "boss@x.com", Priority: ptr(1)},
	}
	r, ok := First(rs, email("boss@x.com", "hi"))
	require.True(t, ok)
	assert.Equal(t, 1, r.ID)

	r, ok = First(rs, email("ann@x.com", "hi"))
	require.True(t, ok)
	assert.Equal(t, 2, r.ID)

	_, ok = First(rs, email("ann@y.com", "hi"))
	assert.False(t, ok)
}

func TestApply(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	r := model.UserRule{
		Name:       "Billing",
		Active:     true,
		SenderGlob: "*@billing.example.com",
		Category:   ptr(model.CategoryFinance),
		Priority:   ptr(9),
		NeedsReply: ptr(false),
		AutoHandle: true,
	}
	res := Apply(r, email("a@billing.example.com", "Your statement"), now)

	assert.Equal(t, model.CategoryFinance, res.Category)
	assert.Equal(t, 5, res.Priority)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, model.VersionUserRule, res.Version)
	assert.True(t, res.Handled)
	assert.Equal(t, []string{"finance", "rule:billing"}, res.Topics)
	assert.Equal(t, now, res.ClassifiedAt)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(model.UserRule{Category: ptr(model.CategoryFYI)}), ErrNoCondition)
	assert.ErrorIs(t, Validate(model.UserRule{SenderGlob: "[", AutoHandle: true}), ErrBadGlob)
	assert.ErrorIs(t, Validate(model.UserRule{SenderGlob: "*@x.com", Category: ptr(model.Category("bogus"))}), ErrBadCategory)
	assert.ErrorIs(t, Validate(model.UserRule{SenderGlob: "*@x.com", Priority: ptr(0)}), ErrBadPriority)
	assert.ErrorIs(t, Validate(model.UserRule{SenderGlob: "*@x.com"}), ErrNoAction)
	assert.NoError(t, Validate(model.UserRule{SenderGlob: "*@x.com", AutoHandle: true}))
}
