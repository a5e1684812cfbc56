package model

import "time"

const (
	VersionUserRule = "user-rule"
	VersionFallback = "rules-fallback"
	VersionUser     = "user-override"
)

// Sentiment values accepted from the model.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentUrgent   = "urgent"
)

// ActionItem 待办事项
type ActionItem struct {
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// ClassificationResult is the single stored classification for an email (upsert by EmailID).
type ClassificationResult struct {
	EmailID        string       `json:"email_id"`
	UserID         int          `json:"user_id"`
	Priority       int          `json:"priority"`
	Category       Category     `json:"category"`
	NeedsReply     bool         `json:"needs_reply"`
	NeedsApproval  bool         `json:"needs_approval"`
	IsThreadActive bool         `json:"is_thread_active"`
	ActionItems    []ActionItem `json:"action_items"`
	Deadline       *time.Time   `json:"deadline,omitempty"`
	Summary        string       `json:"summary"`
	Confidence     float64      `json:"confidence"`
	Topics         []string     `json:"topics"`
	Sentiment      string       `json:"sentiment"`
	Version        string       `json:"version"`

	// read-path state, written by the user or the orchestrator after classification
	Handled        bool      `json:"handled"`
	ThreadResolved bool      `json:"thread_resolved"`
	UserOverridden bool      `json:"user_overridden"`
	ClassifiedAt   time.Time `json:"classified_at"`
}

// ThreadContext 线程上下文
type ThreadContext struct {
	SiblingCount    int
	Participants    []string
	UserReplied     bool
	IsReplyToUser   bool
	ThreadFatigue   bool
	LatestMessageAt time.Time
}

// SenderContext 发件人上下文
type SenderContext struct {
	TotalEmails     int
	Relationship    Relationship
	IsVIP           bool
	RecentCount     int
	AvgResponseDays *float64
}

// ClassificationInput is a NormalizedEmail enriched for the classifier.
type ClassificationInput struct {
	Email  NormalizedEmail
	Thread ThreadContext
	Sender SenderContext

	IsForwarded       bool
	DirectlyAddressed bool
	IsFollowUp        bool
	HasEscalation     bool
	RecipientCount    int
}

// HistoryEntry is one append-only audit row for a classification write.
type HistoryEntry struct {
	EmailID    string
	UserID     int
	Priority   int
	Category   Category
	Confidence float64
	Version    string
	Reason     string
	CreatedAt  time.Time
}

// Override is a user correction, the source for few-shot feedback and threshold tuning.
type Override struct {
	EmailID      string
	UserID       int
	SenderEmail  string
	Subject      string
	FromCategory Category
	ToCategory   Category
	FromPriority int
	ToPriority   int
	CreatedAt    time.Time
}

// CategoryStats 类别统计（用于阈值自调节）
type CategoryStats struct {
	Category  Category
	Total     int
	Overrides int
}
