package model

import "time"

// Relationship 发件人关系
type Relationship string

const (
	RelationshipUnset      Relationship = ""
	RelationshipInternal   Relationship = "internal"
	RelationshipAutomated  Relationship = "automated"
	RelationshipColleague  Relationship = "colleague"
	RelationshipNewsletter Relationship = "newsletter"
	RelationshipManager    Relationship = "manager"
)

// SenderProfile aggregates everything known about one sender for one user.
// Created lazily, never deleted.
type SenderProfile struct {
	UserID      int
	Email       string
	DisplayName string

	TotalEmails  int
	RecentCount  int // emails inside the recent window
	RecentSince  time.Time
	LastSeenAt   time.Time
	RepliedCount int

	Relationship       Relationship
	RelationshipManual bool

	IsVIP     bool
	VIPReason string

	OverrideCount   int
	AvgResponseDays *float64
	Topics          []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAnomalousVolume reports a burst: recent volume well above the sender's usual weekly rate.
func (p *SenderProfile) IsAnomalousVolume(now time.Time) bool {
	if p == nil || p.RecentCount < 5 || p.TotalEmails <= p.RecentCount {
		return false
	}
	weeks := now.Sub(p.CreatedAt).Hours() / (24 * 7)
	if weeks < 2 {
		return false
	}
	usual := float64(p.TotalEmails-p.RecentCount) / weeks
	return float64(p.RecentCount) > 3*usual
}
