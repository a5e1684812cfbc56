package rules

import (
	"path"
	"sort"
	"strings"
	"time"

	"mailtriage/internal/model"
)

// RuleConfidence is the confidence of a rule-written result.
const RuleConfidence = 1.0

// Match reports whether every condition of r holds for e. Empty conditions match anything.
func Match(r model.UserRule, e model.NormalizedEmail) bool {
	if !r.Active {
		return false
	}
	if g := strings.TrimSpace(r.SenderGlob); g != "" && !globMatch(g, e.From.Email) {
		return false
	}
	if s := strings.TrimSpace(r.SubjectContains); s != "" && !strings.Contains(strings.ToLower(e.Subject), strings.ToLower(s)) {
		return false
	}
	if r.IsMailingList != nil && *r.IsMailingList != e.IsMailingList() {
		return false
	}
	if r.HasAttachment != nil && *r.HasAttachment != (e.HasAttachments || len(e.Attachments) > 0) {
		return false
	}
	return true
}

// globMatch matches a shell-style pattern case-insensitively. A malformed pattern matches nothing.
func globMatch(pattern, addr string) bool {
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(strings.TrimSpace(addr)))
	return err == nil && ok
}

// First returns the first active rule by position that matches e.
func First(rules []model.UserRule, e model.NormalizedEmail) (model.UserRule, bool) {
	ordered := make([]model.UserRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	for _, r := range ordered {
		if Match(r, e) {
			return r, true
		}
	}
	return model.UserRule{}, false
}

// Apply builds the deterministic result a matched rule writes.
func Apply(r model.UserRule, e model.NormalizedEmail, now time.Time) model.ClassificationResult {
	res := model.ClassificationResult{
		EmailID:      e.ID,
		UserID:       e.UserID,
		Priority:     3,
		Category:     model.CategoryFYI,
		Summary:      strings.TrimSpace(e.Subject),
		Confidence:   RuleConfidence,
		Sentiment:    model.SentimentNeutral,
		Version:      model.VersionUserRule,
		Handled:      r.AutoHandle,
		ClassifiedAt: now,
	}
	if r.Category != nil && r.Category.Valid() {
		res.Category = *r.Category
	}
	if r.Priority != nil {
		res.Priority = min(max(*r.Priority, 1), 5)
	}
	if r.NeedsReply != nil {
		res.NeedsReply = *r.NeedsReply
	}
	res.Topics = []string{string(res.Category)}
	if r.Name != "" {
		res.Topics = append(res.Topics, "rule:"+strings.ToLower(r.Name))
	}
	return res
}

// Validate checks a rule before it is stored.
func Validate(r model.UserRule) error {
	if strings.TrimSpace(r.SenderGlob) == "" && strings.TrimSpace(r.SubjectContains) == "" &&
		r.IsMailingList == nil && r.HasAttachment == nil {
		return ErrNoCondition
	}
	if g := strings.TrimSpace(r.SenderGlob); g != "" {
		if _, err := path.Match(g, ""); err != nil {
			return ErrBadGlob
		}
	}
	if r.Category != nil && !r.Category.Valid() {
		return ErrBadCategory
	}
	if r.Priority != nil && (*r.Priority < 1 || *r.Priority > 5) {
		return ErrBadPriority
	}
	if r.Category == nil && r.Priority == nil && r.NeedsReply == nil && !r.AutoHandle {
		return ErrNoAction
	}
	return nil
}
