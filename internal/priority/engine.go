package priority

import (
	"fmt"
	"math"
	"time"
)

const (
	MinPriority = 1
	MaxPriority = 5
)

// Signals is the read-time context combined with a stored classification.
type Signals struct {
	Handled        bool
	ThreadResolved bool

	ActionItemDueDates []time.Time

	ReceivedAt      time.Time
	NeedsReply      bool
	UserReplied     bool
	AvgResponseDays *float64

	FollowUp        bool
	Escalation      bool
	AnomalousVolume bool
	ActiveThread    bool

	VIP           bool
	Starred       bool
	CompanyDomain bool
	Colleague     bool
	Automated     bool

	Confidence float64
}

type evaluation struct {
	priority int
	reasons  []string
}

func (e *evaluation) lower(to int, reason string) {
	if to < e.priority {
		e.priority = to
		e.reasons = append(e.reasons, reason)
	}
}

// Effective computes the effective priority in [1,5].
func Effective(stored int, deadline *time.Time, s Signals, cfg Config, now time.Time) int {
	return evaluate(stored, deadline, s, cfg, now).priority
}

// Reasons lists the rules that moved the priority away from the stored value.
func Reasons(stored int, deadline *time.Time, s Signals, cfg Config, now time.Time) []string {
	return evaluate(stored, deadline, s, cfg, now).reasons
}

func evaluate(stored int, deadline *time.Time, s Signals, cfg Config, now time.Time) evaluation {
	cfg = cfg.WithDefaults()
	e := evaluation{priority: clamp(stored)}

	if s.Handled {
		return e
	}
	if s.ThreadResolved {
		if e.priority < cfg.ResolvedFloor {
			e.priority = clamp(cfg.ResolvedFloor)
			e.reasons = append(e.reasons, "Thread resolved")
		}
		return e
	}

	deadlineDriven := false
	if eff := earliest(deadline, s.ActionItemDueDates); eff != nil {
		before := e.priority
		if now.After(*eff) {
			days := now.Sub(*eff).Hours() / 24
			if p, ok := bandFor(cfg.OverdueBands, days); ok {
				e.lower(p, fmt.Sprintf("Overdue by %s", dayCount(days)))
			}
		} else {
			days := eff.Sub(now).Hours() / 24
			if p, ok := bandFor(cfg.UpcomingBands, days); ok {
				e.lower(p, fmt.Sprintf("Due in %s", dayCount(days)))
			}
		}
		deadlineDriven = e.priority < before
	}

	if s.NeedsReply && !s.UserReplied && !s.ReceivedAt.IsZero() && now.After(s.ReceivedAt) {
		elapsed := float64(BusinessDaysBetween(s.ReceivedAt, now))
		calendar := now.Sub(s.ReceivedAt).Hours() / 24
		if floor := calendar * cfg.CalendarFloorRatio; floor > elapsed {
			elapsed = floor
		}

		th := cfg.DefaultAgeThresholds
		if s.AvgResponseDays != nil && *s.AvgResponseDays > 0 {
			base := *s.AvgResponseDays
			th = AgeThresholds{
				Critical:  base * cfg.ResponseMultipliers.Critical,
				Important: base * cfg.ResponseMultipliers.Important,
				Moderate:  base * cfg.ResponseMultipliers.Moderate,
			}
		}

		reason := fmt.Sprintf("Waiting %d business days for your reply", int(math.Floor(elapsed)))
		switch {
		case elapsed >= th.Critical:
			e.lower(1, reason)
		case elapsed >= th.Important:
			e.lower(2, reason)
		case elapsed >= th.Moderate:
			e.lower(3, reason)
		}
	}

	if s.FollowUp {
		e.step(cfg.FollowUpStep, "Sender is following up")
	}
	if s.Escalation {
		e.step(cfg.EscalationStep, "Escalation language")
	}
	if s.AnomalousVolume {
		e.step(cfg.AnomalyStep, "Unusual volume from this sender")
	}
	if s.ActiveThread && !s.UserReplied {
		e.step(cfg.ActiveThreadStep, "Active thread awaiting your reply")
	}

	forced := deadlineDriven
	if s.VIP {
		e.lower(cfg.VIPCeiling, "VIP sender")
		forced = true
	}
	if s.Starred {
		e.lower(cfg.StarredCeiling, "Starred or marked important")
		forced = true
	}
	if s.CompanyDomain {
		e.lower(cfg.CompanyCeiling, "Sender from your company")
	}
	if s.Colleague {
		e.lower(cfg.ColleagueCeiling, "Known colleague")
	}

	if s.Automated && !forced && e.priority < cfg.AutomatedFloor {
		e.priority = clamp(cfg.AutomatedFloor)
		e.reasons = append(e.reasons, "Automated sender")
	}

	if s.Confidence < cfg.LowConfidence && e.priority <= 2 && !forced {
		e.priority = clamp(cfg.LowConfidenceFloor)
		e.reasons = append(e.reasons, fmt.Sprintf("Low confidence (%.0f%%), urgency not trusted", s.Confidence*100))
	}

	e.priority = clamp(e.priority)
	return e
}

func (e *evaluation) step(by int, reason string) {
	if by <= 0 || e.priority <= MinPriority {
		return
	}
	e.lower(max(MinPriority, e.priority-by), reason)
}

func bandFor(bands []Band, days float64) (int, bool) {
	for _, b := range bands {
		if days <= b.MaxDays {
			return b.Priority, true
		}
	}
	return 0, false
}

func earliest(deadline *time.Time, due []time.Time) *time.Time {
	var out *time.Time
	if deadline != nil && !deadline.IsZero() {
		d := *deadline
		out = &d
	}
	for _, d := range due {
		if d.IsZero() {
			continue
		}
		if out == nil || d.Before(*out) {
			dd := d
			out = &dd
		}
	}
	return out
}

func dayCount(days float64) string {
	n := int(math.Round(days))
	switch n {
	case 0:
		return "less than a day"
	case 1:
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func clamp(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// BusinessDaysBetween counts Monday-Friday days among the whole days elapsed from from to to.
func BusinessDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	days := int(to.Sub(from).Hours() / 24)
	weeks := days / 7
	n := weeks * 5
	for i := weeks*7 + 1; i <= days; i++ {
		switch from.AddDate(0, 0, i).Weekday() {
		case time.Saturday, time.Sunday:
		default:
			n++
		}
	}
	return n
}
