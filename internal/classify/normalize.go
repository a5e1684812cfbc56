package classify

import (
	"strings"
	"time"

	"mailtriage/internal/model"
)

const (
	maxSummaryRunes   = 200
	maxTopics         = 3
	defaultPriority   = 3
	defaultConfidence = 0.5
	defaultTopic      = "general"
)

// Normalize turns a raw entry into a result whose fields are all within range.
func Normalize(raw RawClassification, in model.ClassificationInput, version string, now time.Time) model.ClassificationResult {
	res := model.ClassificationResult{
		EmailID:        in.Email.ID,
		UserID:         in.Email.UserID,
		Priority:       defaultPriority,
		Category:       NormalizeCategory(string(raw.Category)),
		NeedsReply:     bool(raw.NeedsReply),
		NeedsApproval:  bool(raw.NeedsApproval),
		IsThreadActive: bool(raw.IsThreadActive),
		Confidence:     defaultConfidence,
		Summary:        normalizeSummary(string(raw.Summary)),
		Topics:         normalizeTopics(raw.Topics),
		Sentiment:      normalizeSentiment(string(raw.Sentiment)),
		Version:        version,
		ClassifiedAt:   now,
	}
	if raw.Priority.Set {
		res.Priority = clampInt(raw.Priority.Value, 1, 5)
	}
	if raw.Confidence.Set {
		res.Confidence = clampFloat(raw.Confidence.Value, 0, 1)
	}

	received := in.Email.ReceivedAt
	res.Deadline = ValidateDueDate(string(raw.Deadline), received, now)

	for _, item := range raw.ActionItems {
		if item.Kind == ActionItemInvalid || item.Description == "" {
			continue
		}
		ai := model.ActionItem{Description: item.Description}
		if item.DueDate != "" {
			ai.DueDate = ValidateDueDate(item.DueDate, received, now)
		}
		res.ActionItems = append(res.ActionItems, ai)
	}
	return res
}

func normalizeSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxSummaryRunes {
		s = string(r[:maxSummaryRunes-1]) + "…"
	}
	return s
}

func normalizeTopics(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, maxTopics)
	for _, t := range in {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTopics {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, defaultTopic)
	}
	return out
}

func normalizeSentiment(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case model.SentimentPositive, model.SentimentNegative, model.SentimentUrgent, model.SentimentNeutral:
		return s
	default:
		return model.SentimentNeutral
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
