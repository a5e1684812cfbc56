package pipeline

import (
	"sort"
	"strings"
	"time"

	"mailtriage/internal/classify"
	"mailtriage/internal/content"
	"mailtriage/internal/model"
	"mailtriage/internal/priority"
)

const (
	fatigueSiblings = 8
	recentWindow    = 7 * 24 * time.Hour
)

// Identity is the set of addresses that belong to the user.
type Identity map[string]bool

func NewIdentity(accounts []model.Account) Identity {
	id := make(Identity, len(accounts))
	for _, a := range accounts {
		if a.Email != "" {
			id[strings.ToLower(a.Email)] = true
		}
	}
	return id
}

func (id Identity) sentBy(e model.NormalizedEmail) bool {
	return e.FromUser || id[strings.ToLower(e.From.Email)]
}

func (id Identity) addressedIn(e model.NormalizedEmail) bool {
	for addr := range id {
		if e.IsAddressedTo(addr) {
			return true
		}
	}
	return false
}

// plainText returns the body as text for regex detectors.
func plainText(e model.NormalizedEmail) string {
	if e.IsHTML {
		return content.HTMLToPlainText(e.Body)
	}
	return e.Body
}

// BuildInput enriches one email with thread, sender and derived signals.
// thread is every stored message of the email's thread, the email itself included.
func BuildInput(e model.NormalizedEmail, thread []model.NormalizedEmail, profile *model.SenderProfile, id Identity, now time.Time) model.ClassificationInput {
	text := plainText(e)
	fwd := content.DetectForward(e.Subject, text)
	return model.ClassificationInput{
		Email:             e,
		Thread:            threadContext(e, thread, id),
		Sender:            senderContext(profile, now),
		IsForwarded:       fwd.IsForward,
		DirectlyAddressed: id.addressedIn(e),
		IsFollowUp:        priority.DetectFollowUp(e.Subject, text),
		HasEscalation:     priority.DetectEscalation(e.Subject, text),
		RecipientCount:    e.RecipientCount(),
	}
}

func threadContext(e model.NormalizedEmail, thread []model.NormalizedEmail, id Identity) model.ThreadContext {
	tc := model.ThreadContext{LatestMessageAt: e.ReceivedAt}
	seen := map[string]bool{}
	sent := map[string]bool{}

	for _, m := range thread {
		if id.sentBy(m) && m.MessageID != "" {
			sent[m.MessageID] = true
		}
	}
	add := func(addr string) {
		addr = strings.ToLower(addr)
		if addr != "" && !seen[addr] {
			seen[addr] = true
			tc.Participants = append(tc.Participants, addr)
		}
	}
	add(e.From.Email)
	for _, m := range thread {
		if m.ID == e.ID {
			continue
		}
		add(m.From.Email)
		tc.SiblingCount++
		if m.ReceivedAt.After(tc.LatestMessageAt) {
			tc.LatestMessageAt = m.ReceivedAt
		}
		if id.sentBy(m) && m.ReceivedAt.After(e.ReceivedAt) {
			tc.UserReplied = true
		}
	}
	sort.Strings(tc.Participants)
	tc.IsReplyToUser = e.InReplyTo != "" && sent[e.InReplyTo]
	tc.ThreadFatigue = tc.SiblingCount >= fatigueSiblings
	return tc
}

func senderContext(p *model.SenderProfile, now time.Time) model.SenderContext {
	if p == nil {
		return model.SenderContext{}
	}
	recent := p.RecentCount
	if now.Sub(p.RecentSince) > recentWindow {
		recent = 0
	}
	return model.SenderContext{
		TotalEmails:     p.TotalEmails,
		Relationship:    p.Relationship,
		IsVIP:           p.IsVIP,
		RecentCount:     recent,
		AvgResponseDays: p.AvgResponseDays,
	}
}

// BuildFeedback turns recent overrides (newest first) into few-shot examples.
// Overrides for senders present in the batch come first; one example per
// sender and corrected category; at most limit examples.
func BuildFeedback(overrides []model.Override, batchSenders map[string]bool, limit int) []classify.FeedbackExample {
	if limit <= 0 || len(overrides) == 0 {
		return nil
	}
	ordered := make([]model.Override, 0, len(overrides))
	for _, o := range overrides {
		if batchSenders[strings.ToLower(o.SenderEmail)] {
			ordered = append(ordered, o)
		}
	}
	for _, o := range overrides {
		if !batchSenders[strings.ToLower(o.SenderEmail)] {
			ordered = append(ordered, o)
		}
	}

	seen := map[string]bool{}
	var out []classify.FeedbackExample
	for _, o := range ordered {
		key := strings.ToLower(o.SenderEmail) + "|" + string(o.FromCategory) + "|" + string(o.ToCategory)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, classify.FeedbackExample{
			Sender:       o.SenderEmail,
			Subject:      o.Subject,
			FromCategory: o.FromCategory,
			ToCategory:   o.ToCategory,
			FromPriority: o.FromPriority,
			ToPriority:   o.ToPriority,
		})
		if len(out) == limit {
			break
		}
	}
	return out
}
