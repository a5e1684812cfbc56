package classify

import (
	"fmt"
	"strings"
	"time"

	"mailtriage/internal/content"
	"mailtriage/internal/model"
)

// FeedbackExample is one past user correction shown to the model.
type FeedbackExample struct {
	Sender       string
	Subject      string
	FromCategory model.Category
	ToCategory   model.Category
	FromPriority int
	ToPriority   int
}

// BuildSystemPrompt returns the fixed instruction contract.
func BuildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You triage email for a busy professional. For every <email> block, return one classification.\n\n")
	b.WriteString("Categories (use exactly one value):\n")
	for _, c := range model.Categories {
		b.WriteString("- ")
		b.WriteString(string(c))
		b.WriteString("\n")
	}
	b.WriteString(`
Fields:
- id: copy the email id attribute verbatim.
- priority: 1 (act now) to 5 (can ignore).
- needs_reply: the sender expects a written answer from the user.
- needs_approval: the user is asked to approve, sign or authorize something.
- is_thread_active: the conversation is ongoing and moving.
- action_items: concrete things the user must do, each {"description": "...", "due_date": "YYYY-MM-DD" or null}.
- deadline: the single most important due date as YYYY-MM-DD, or null.
- summary: one line, at most 200 characters.
- confidence: 0 to 1, how sure you are of category and priority.
- topics: 1 to 3 short lowercase tags.
- sentiment: positive, neutral, negative or urgent.

Respond with JSON only, no prose:
{"classifications":[{"id":"...","priority":3,"category":"fyi","needs_reply":false,"needs_approval":false,"is_thread_active":false,"action_items":[],"deadline":null,"summary":"...","confidence":0.8,"topics":["..."],"sentiment":"neutral"}]}
`)
	return b.String()
}

// RenderEmail renders one email block with its body prepared to budget characters.
func RenderEmail(in model.ClassificationInput, budget int) string {
	e := in.Email
	prepared := content.Prepare(e.Subject, e.Body, e.IsHTML, budget)

	var b strings.Builder
	fmt.Fprintf(&b, "<email id=%q>\n", e.ID)
	fmt.Fprintf(&b, "From: %s\n", formatAddress(e.From))
	fmt.Fprintf(&b, "To: %d recipients, cc %d (user directly addressed: %s)\n", len(e.To), len(e.Cc), yesNo(in.DirectlyAddressed))
	fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
	if !e.ReceivedAt.IsZero() {
		fmt.Fprintf(&b, "Date: %s (%s)\n", e.ReceivedAt.UTC().Format(time.RFC3339), e.ReceivedAt.Weekday())
	}
	if len(e.Attachments) > 0 {
		parts := make([]string, 0, len(e.Attachments))
		for _, a := range e.Attachments {
			parts = append(parts, fmt.Sprintf("%s (%s, %d KB)", a.Filename, a.MIMEType, (a.Size+1023)/1024))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(parts, "; "))
	}

	signals := []string{
		fmt.Sprintf("thread_messages=%d", in.Thread.SiblingCount+1),
		"user_replied=" + yesNo(in.Thread.UserReplied),
		"reply_to_user=" + yesNo(in.Thread.IsReplyToUser),
		"thread_fatigue=" + yesNo(in.Thread.ThreadFatigue),
		fmt.Sprintf("sender_emails=%d", in.Sender.TotalEmails),
		fmt.Sprintf("sender_recent_7d=%d", in.Sender.RecentCount),
		"sender_relationship=" + orDash(string(in.Sender.Relationship)),
		"vip=" + yesNo(in.Sender.IsVIP),
		fmt.Sprintf("recipients=%d", in.RecipientCount),
		"forwarded=" + yesNo(in.IsForwarded),
		"follow_up=" + yesNo(in.IsFollowUp),
		"escalation=" + yesNo(in.HasEscalation),
		"mailing_list=" + yesNo(e.IsMailingList()),
		"starred=" + yesNo(e.IsStarred),
	}
	fmt.Fprintf(&b, "Signals: %s\n", strings.Join(signals, "; "))

	if hints := content.ScanDates(plainBody(e)); len(hints) > 0 {
		fmt.Fprintf(&b, "Candidate dates: %s\n", strings.Join(hints, " | "))
	}
	b.WriteString("Body:\n")
	b.WriteString(prepared.Text)
	b.WriteString("\n</email>\n")
	return b.String()
}

// RenderBatch builds the single user message for a batch.
func RenderBatch(items []model.ClassificationInput, budget int, feedback []FeedbackExample, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s (%s).\n\n", now.UTC().Format("2006-01-02"), now.Weekday())
	if len(feedback) > 0 {
		b.WriteString("The user corrected earlier classifications. Follow these preferences:\n")
		for _, f := range feedback {
			b.WriteString("- ")
			b.WriteString(f.String())
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Classify these %d emails:\n\n", len(items))
	for _, in := range items {
		b.WriteString(RenderEmail(in, budget))
		b.WriteString("\n")
	}
	return b.String()
}

func (f FeedbackExample) String() string {
	about := "anything"
	if s := strings.TrimSpace(f.Subject); s != "" {
		about = fmt.Sprintf("%q", s)
	}
	line := fmt.Sprintf("emails from %s about %s were corrected from %s to %s", f.Sender, about, f.FromCategory, f.ToCategory)
	if f.FromPriority != f.ToPriority && f.ToPriority > 0 {
		line += fmt.Sprintf(" (priority %d to %d)", f.FromPriority, f.ToPriority)
	}
	return line
}

// plainBody is the body as plain text, used for date hints.
func plainBody(e model.NormalizedEmail) string {
	if e.IsHTML {
		return content.HTMLToPlainText(e.Body)
	}
	return e.Body
}

func formatAddress(a model.Address) string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
