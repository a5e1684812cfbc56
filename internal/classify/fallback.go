package classify

import (
	"strings"
	"time"

	"mailtriage/internal/content"
	"mailtriage/internal/model"
)

// FallbackConfidence is the fixed confidence of rule-based results.
const FallbackConfidence = 0.3

type keywordGroup struct {
	category model.Category
	priority int
	words    []string
}

// checked in order, first hit wins
var fallbackGroups = []keywordGroup{
	{model.CategorySecurity, 2, []string{
		"password reset", "reset your password", "verification code", "security alert",
		"sign-in attempt", "new sign-in", "login attempt", "two-factor", "2fa", "suspicious activity",
	}},
	{model.CategoryFinance, 3, []string{
		"invoice", "receipt", "payment", "statement", "billing", "refund", "amount due", "wire transfer",
	}},
	{model.CategoryShipping, 4, []string{
		"shipped", "out for delivery", "tracking number", "has been delivered", "your order", "your package", "shipment",
	}},
	{model.CategoryMeeting, 3, []string{
		"invitation:", "meeting", "calendar", "zoom.us", "teams meeting", "reschedule", "rsvp",
	}},
	{model.CategorySocial, 5, []string{
		"linkedin", "facebook", "twitter", "instagram", "mentioned you", "commented on", "new follower", "friend request",
	}},
}

// FallbackClassify is the deterministic classifier used when the model is unavailable.
func FallbackClassify(in model.ClassificationInput, now time.Time) model.ClassificationResult {
	e := in.Email
	body := e.Body
	if e.IsHTML {
		body = content.HTMLToPlainText(body)
	}
	if r := []rune(body); len(r) > 1000 {
		body = string(r[:1000])
	}
	text := strings.ToLower(e.Subject + "\n" + e.Snippet + "\n" + body)
	sender := strings.ToLower(e.From.Email)
	subject := strings.ToLower(strings.TrimSpace(e.Subject))

	res := model.ClassificationResult{
		EmailID:      e.ID,
		UserID:       e.UserID,
		Category:     model.CategoryFYI,
		Priority:     4,
		Summary:      fallbackSummary(e),
		Confidence:   FallbackConfidence,
		Sentiment:    model.SentimentNeutral,
		Version:      model.VersionFallback,
		ClassifiedAt: now,
	}

	matched := false
	for _, g := range fallbackGroups {
		if containsAny(text, g.words) || containsAny(sender, g.words) {
			res.Category, res.Priority = g.category, g.priority
			matched = true
			break
		}
	}

	if !matched {
		switch {
		case e.IsMailingList() && IsAutomatedSender(sender, nil):
			res.Category, res.Priority = model.CategoryNewsletter, 5
		case strings.HasPrefix(subject, "re:"):
			res.Category, res.Priority = model.CategoryReplyNeeded, 3
			res.NeedsReply = true
		case content.IsForwardSubject(e.Subject):
			res.Category, res.Priority = model.CategoryFYI, 4
		}
	}

	if e.IsStarred && res.Priority > 1 {
		res.Priority--
	}
	res.Topics = []string{string(res.Category)}
	return res
}

func fallbackSummary(e model.NormalizedEmail) string {
	s := strings.TrimSpace(e.Subject)
	if s == "" {
		s = strings.TrimSpace(e.Snippet)
	}
	if r := []rune(s); len(r) > maxSummaryRunes {
		s = string(r[:maxSummaryRunes])
	}
	return s
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
