package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLToPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops head, style and script",
			in:   `<html><head><title>x</title><style>p{color:red}</style></head><body><p>Hello&nbsp;<b>world</b></p><script>var a=1;</script><div>Fish &amp; chips</div></body></html>`,
			want: "Hello world\n\nFish & chips",
		},
		{
			name: "line breaks",
			in:   "a<br>b<br/>c",
			want: "a\nb\nc",
		},
		{
			name: "collapses spaces",
			in:   "<p>  lots    of\t\tspace  </p>",
			want: "lots of space",
		},
		{
			name: "plain text passes through",
			in:   "no markup here",
			want: "no markup here",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTMLToPlainText(tt.in))
		})
	}
}

func TestParseReplyChain_OnWrote(t *testing.T) {
	text := "Sounds good, see you then.\n\n" +
		"On Mon, Jan 5, 2026 at 10:00 AM, Alice Smith <alice@example.com> wrote:\n" +
		"> Can we meet Tuesday?\n" +
		"> \n" +
		"> On Sun, Jan 4, 2026 at 9:00 AM, Bob <bob@example.com> wrote:\n" +
		">> Any time next week works."

	chain := ParseReplyChain(text)
	assert.Equal(t, "Sounds good, see you then.", chain.Primary)
	require.Len(t, chain.Quoted, 2)

	assert.Equal(t, "Alice Smith <alice@example.com>", chain.Quoted[0].Author)
	assert.Equal(t, "Mon, Jan 5, 2026 at 10:00 AM", chain.Quoted[0].Date)
	assert.Equal(t, "Can we meet Tuesday?", chain.Quoted[0].Text)

	assert.Equal(t, "Bob <bob@example.com>", chain.Quoted[1].Author)
	assert.Equal(t, "Any time next week works.", chain.Quoted[1].Text)
}

func TestParseReplyChain_HeaderBlock(t *testing.T) {
	text := "Approved.\n\n" +
		"From: Carol Jones <carol@corp.com>\n" +
		"Sent: Tuesday, March 3, 2026 4:15 PM\n" +
		"To: Dave <dave@corp.com>\n" +
		"Subject: Budget request\n\n" +
		"Please approve the Q2 budget."

	chain := ParseReplyChain(text)
	assert.Equal(t, "Approved.", chain.Primary)
	require.Len(t, chain.Quoted, 1)
	assert.Equal(t, "Carol Jones <carol@corp.com>", chain.Quoted[0].Author)
	assert.Equal(t, "Tuesday, March 3, 2026 4:15 PM", chain.Quoted[0].Date)
	assert.Equal(t, "Please approve the Q2 budget.", chain.Quoted[0].Text)
}

func TestParseReplyChain_BottomPosted(t *testing.T) {
	chain := ParseReplyChain("> original question\nMy answer below.")
	assert.Equal(t, "My answer below.", chain.Primary)
	require.Len(t, chain.Quoted, 1)
	assert.Equal(t, "original question", chain.Quoted[0].Text)
	assert.Empty(t, chain.Quoted[0].Author)
}

func TestParseReplyChain_Unrecognized(t *testing.T) {
	text := "Just a note, nothing quoted.\nSecond line."
	chain := ParseReplyChain(text)
	assert.Equal(t, text, chain.Primary)
	assert.Empty(t, chain.Quoted)
}

func TestStripSignature(t *testing.T) {
	t.Run("delimiter near the end", func(t *testing.T) {
		body := "Please review the attached contract and send comments by Friday. " +
			"Thanks for the quick turnaround on this one.\n\n-- \nJohn Doe\nSenior Counsel"
		got, ok := StripSignature(body)
		assert.True(t, ok)
		assert.Equal(t, "Please review the attached contract and send comments by Friday. Thanks for the quick turnaround on this one.", got)
	})

	t.Run("mobile boilerplate", func(t *testing.T) {
		body := "I'll be ten minutes late to the standup, start without me please.\n\nSent from my iPhone"
		got, ok := StripSignature(body)
		assert.True(t, ok)
		assert.Equal(t, "I'll be ten minutes late to the standup, start without me please.", got)
	})

	t.Run("marker too early is kept", func(t *testing.T) {
		body := "-- \nthis is the body of the message and it keeps going for a while"
		got, ok := StripSignature(body)
		assert.False(t, ok)
		assert.Equal(t, body, got)
	})
}

func TestDetectForward(t *testing.T) {
	text := "FYI, see below.\n\n" +
		"---------- Forwarded message ---------\n" +
		"From: Billing <billing@vendor.com>\n" +
		"Date: Mon, Feb 2, 2026\n" +
		"Subject: Invoice #42\n" +
		"To: me@example.com\n\n" +
		"Your invoice is attached."

	f := DetectForward("Fwd: Invoice", text)
	assert.True(t, f.IsForward)
	assert.True(t, f.Divider)
	assert.Equal(t, "FYI, see below.", f.Comment)
	assert.Equal(t, "Billing <billing@vendor.com>", f.Headers["from"])
	assert.Equal(t, "Invoice #42", f.Headers["subject"])
	assert.Equal(t, "Your invoice is attached.", f.Body)

	plain := DetectForward("Fwd: hello", "no divider here")
	assert.True(t, plain.IsForward)
	assert.False(t, plain.Divider)
	assert.Equal(t, "no divider here", plain.Comment)

	none := DetectForward("Lunch?", "want to grab lunch")
	assert.False(t, none.IsForward)
}

func TestPrepare(t *testing.T) {
	t.Run("keeps sections under a roomy budget", func(t *testing.T) {
		body := "Sounds good, see you then.\n\n" +
			"On Mon, Jan 5, 2026 at 10:00 AM, Alice Smith <alice@example.com> wrote:\n" +
			"> Can we meet Tuesday?\n"
		p := Prepare("Re: meeting", body, false, 2000)
		assert.False(t, p.Truncated)
		assert.Contains(t, p.Text, "Sounds good, see you then.")
		assert.Contains(t, p.Text, "[Previous message from Alice Smith <alice@example.com> on Mon, Jan 5, 2026 at 10:00 AM]")
		assert.Contains(t, p.Text, "Can we meet Tuesday?")
	})

	t.Run("truncates to budget", func(t *testing.T) {
		body := strings.Repeat("lorem ipsum dolor ", 200)
		p := Prepare("long", body, false, 100)
		assert.True(t, p.Truncated)
		assert.LessOrEqual(t, runeLen(p.Text), 100)
		assert.True(t, strings.HasSuffix(p.Text, TruncationMarker))
	})

	t.Run("appends forwarded content", func(t *testing.T) {
		body := "FYI, see below.\n\n" +
			"---------- Forwarded message ---------\n" +
			"From: Billing <billing@vendor.com>\n" +
			"Subject: Invoice #42\n\n" +
			"Your invoice is attached."
		p := Prepare("Fwd: Invoice", body, false, 2000)
		assert.Contains(t, p.Text, "FYI, see below.")
		assert.Contains(t, p.Text, "[Forwarded message from Billing <billing@vendor.com>]")
		assert.Contains(t, p.Text, "Your invoice is attached.")
	})

	t.Run("html body", func(t *testing.T) {
		p := Prepare("hi", "<p>Hello <b>there</b></p>", true, 500)
		assert.Equal(t, "Hello there", p.Text)
	})

	t.Run("recent reply respects its share", func(t *testing.T) {
		body := "ok\n\nOn Mon, Jan 5, 2026 at 10:00 AM, Alice <a@x.com> wrote:\n> " + strings.Repeat("quoted text ", 100)
		p := Prepare("Re: x", body, false, 400)
		assert.True(t, p.Truncated)
		assert.LessOrEqual(t, runeLen(p.Text), 400)
	})
}

func TestScanDates(t *testing.T) {
	got := ScanDates("Please send it by Friday or at the latest 2026-03-15. Meeting on Jan 5th.")
	assert.Equal(t, []string{"by Friday", "2026-03-15", "Jan 5th"}, got)

	assert.Empty(t, ScanDates("nothing time related in here"))
}
