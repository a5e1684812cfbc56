package classify

import "mailtriage/internal/model"

// defaultThreshold applies to categories missing from the table.
const defaultThreshold = 0.70

// forceEscalateBypass is the confidence at which forced categories skip the second pass.
const forceEscalateBypass = 0.90

// Thresholds maps a category to the minimum first-pass confidence it is accepted at.
type Thresholds map[model.Category]float64

var baseThresholds = Thresholds{
	model.CategoryReplyNeeded:  0.80,
	model.CategoryApproval:     0.80,
	model.CategoryTask:         0.80,
	model.CategorySecurity:     0.75,
	model.CategoryFinance:      0.75,
	model.CategoryMeeting:      0.75,
	model.CategoryPersonal:     0.65,
	model.CategorySupport:      0.65,
	model.CategoryTravel:       0.65,
	model.CategoryShipping:     0.60,
	model.CategoryNotification: 0.60,
	model.CategoryFYI:          0.60,
	model.CategorySocial:       0.50,
	model.CategoryNewsletter:   0.50,
	model.CategoryPromotion:    0.50,
	model.CategorySpam:         0.50,
}

// ForceEscalate lists categories always re-checked unless confidence reaches 0.90.
var ForceEscalate = map[model.Category]bool{
	model.CategoryApproval: true,
	model.CategorySecurity: true,
}

// DefaultThresholds returns a copy of the static table.
func DefaultThresholds() Thresholds {
	out := make(Thresholds, len(baseThresholds))
	for k, v := range baseThresholds {
		out[k] = v
	}
	return out
}

// Merge returns t with every entry of override applied.
func (t Thresholds) Merge(override Thresholds) Thresholds {
	out := make(Thresholds, len(t)+len(override))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range override {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// For returns the threshold of c.
func (t Thresholds) For(c model.Category) float64 {
	if v, ok := t[c]; ok {
		return v
	}
	return defaultThreshold
}

// SecondPassReason names why an email was re-read in full.
type SecondPassReason string

const (
	ReasonLowConfidence  SecondPassReason = "low_confidence"
	ReasonForced         SecondPassReason = "forced_category"
	ReasonMissedDeadline SecondPassReason = "missed_deadline"
)

// NeedsSecondPass decides whether a first-pass result is re-run with the full body.
// dateHints are the ScanDates hits of the email body.
func NeedsSecondPass(r model.ClassificationResult, dateHints []string, t Thresholds) (SecondPassReason, bool) {
	if r.Deadline == nil && len(dateHints) > 0 {
		return ReasonMissedDeadline, true
	}
	if ForceEscalate[r.Category] && r.Confidence < forceEscalateBypass {
		return ReasonForced, true
	}
	if r.Confidence < t.For(r.Category) {
		return ReasonLowConfidence, true
	}
	return "", false
}
