package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFollowUp(t *testing.T) {
	assert.True(t, DetectFollowUp("Re: Follow-up on proposal", ""))
	assert.True(t, DetectFollowUp("Proposal", "Hi, just checking in on this."))
	assert.False(t, DetectFollowUp("Proposal", "Attached is the deck."))

	quoted := "Thanks!\n\nOn Mon, Jan 5, 2026 at 10:00 AM, Bob <b@x.com> wrote:\n> just checking in on this"
	assert.False(t, DetectFollowUp("Proposal", quoted))
}

func TestDetectEscalation(t *testing.T) {
	assert.True(t, DetectEscalation("URGENT: server down", ""))
	assert.True(t, DetectEscalation("status", "We need this ASAP please."))
	assert.False(t, DetectEscalation("lunch", "Tacos on Friday?"))
}

func TestDetectResolution(t *testing.T) {
	assert.True(t, DetectResolution("Re: login bug", "Never mind, it's resolved now."))
	assert.True(t, DetectResolution("Re: access", "All set, thanks!"))
	assert.False(t, DetectResolution("Re: login bug", "Still broken for me."))
}
