package pipeline

import (
	"context"
	"strings"
	"time"

	"mailtriage/internal/classify"
	"mailtriage/internal/model"

	"go.uber.org/zap"
)

const maxSenderTopics = 20

// UpdateProfile folds one classified email into the sender's profile, creating it when p is nil.
// The relationship is inferred only when it was not set manually.
func UpdateProfile(p *model.SenderProfile, e model.NormalizedEmail, res model.ClassificationResult, companyDomains []string, now time.Time) *model.SenderProfile {
	addr := strings.ToLower(e.From.Email)
	if p == nil {
		p = &model.SenderProfile{
			UserID:      e.UserID,
			Email:       addr,
			RecentSince: now,
			CreatedAt:   now,
		}
	}
	if p.DisplayName == "" {
		p.DisplayName = e.From.Name
	}

	p.TotalEmails++
	if now.Sub(p.RecentSince) > recentWindow {
		p.RecentSince = now
		p.RecentCount = 0
	}
	p.RecentCount++
	if e.ReceivedAt.After(p.LastSeenAt) {
		p.LastSeenAt = e.ReceivedAt
	}
	p.Topics = mergeTopics(p.Topics, res.Topics)

	if !p.RelationshipManual {
		if rel := inferRelationship(e, companyDomains); rel != model.RelationshipUnset {
			p.Relationship = rel
		}
	}
	p.UpdatedAt = now
	return p
}

func inferRelationship(e model.NormalizedEmail, companyDomains []string) model.Relationship {
	switch {
	case classify.IsAutomatedSender(e.From.Email, companyDomains):
		return model.RelationshipAutomated
	case classify.IsCompanyDomain(e.From.Domain(), companyDomains):
		return model.RelationshipInternal
	case e.IsMailingList():
		return model.RelationshipNewsletter
	}
	return model.RelationshipUnset
}

func mergeTopics(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, t := range have {
		seen[t] = true
	}
	for _, t := range add {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] || strings.HasPrefix(t, "rule:") {
			continue
		}
		seen[t] = true
		have = append(have, t)
	}
	if len(have) > maxSenderTopics {
		have = have[len(have)-maxSenderTopics:]
	}
	return have
}

func (o *Orchestrator) updateSenders(ctx context.Context, userID int, emails []model.NormalizedEmail, results map[string]model.ClassificationResult, profiles map[string]*model.SenderProfile, log *zap.Logger) {
	now := o.now()
	touched := map[string]*model.SenderProfile{}
	for _, e := range emails {
		addr := strings.ToLower(e.From.Email)
		if addr == "" {
			continue
		}
		e.UserID = userID
		p := UpdateProfile(profiles[addr], e, results[e.ID], o.cfg.CompanyDomains, now)
		profiles[addr] = p
		touched[addr] = p
	}
	for addr, p := range touched {
		if err := o.deps.Senders.Save(ctx, p); err != nil {
			log.Warn("Failed to save sender profile", zap.String("sender", addr), zap.Error(err))
		}
	}
}
