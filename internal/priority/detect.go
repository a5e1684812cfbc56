package priority

import (
	"regexp"

	"mailtriage/internal/content"
)

const previewChars = 500

var (
	followUpSubjectRe = regexp.MustCompile(`(?i)^\s*(?:re:\s*)*(?:follow[- ]?up|reminder|2nd request|second request)\b`)
	followUpBodyRe    = regexp.MustCompile(`(?i)\b(?:following up|follow(?:ing)?[- ]up on|just checking in|checking in on|any updates?|gentle reminder|friendly reminder|circling back|bumping this|did you (?:get|have) a chance|haven'?t heard back|still waiting)\b`)

	escalationRe = regexp.MustCompile(`(?i)\b(?:urgent(?:ly)?|asap|as soon as possible|escalat(?:e|ed|ing|ion)|immediately|time[- ]sensitive|final notice|last chance|past due|blocking|blocker|emergency)\b`)

	resolutionRe = regexp.MustCompile(`(?i)\b(?:resolved|fixed now|sorted(?: out)?|never ?mind|all set|no longer needed|problem solved|issue (?:is )?closed|we(?:'re| are) good now|this is done|closing (?:this|the) (?:loop|thread|ticket)|please disregard)\b`)
)

// DetectFollowUp reports follow-up / nudge language.
func DetectFollowUp(subject, body string) bool {
	return followUpSubjectRe.MatchString(subject) || followUpBodyRe.MatchString(preview(body))
}

// DetectEscalation reports urgency / escalation language.
func DetectEscalation(subject, body string) bool {
	return escalationRe.MatchString(subject) || escalationRe.MatchString(preview(body))
}

// DetectResolution reports that the latest message closes the conversation.
func DetectResolution(subject, body string) bool {
	return resolutionRe.MatchString(subject) || resolutionRe.MatchString(preview(body))
}

// preview is the quote-stripped start of a body, so old quoted text can't trigger a match.
func preview(body string) string {
	primary := []rune(content.ParseReplyChain(body).Primary)
	if len(primary) > previewChars {
		primary = primary[:previewChars]
	}
	return string(primary)
}
