package model

import "time"

// UserRule 用户规则：命中后跳过 LLM
type UserRule struct {
	ID       int    `json:"id"`
	UserID   int    `json:"user_id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Active   bool   `json:"active"`

	// conditions, empty / nil means "any"
	SenderGlob      string `json:"sender_glob,omitempty"`
	SubjectContains string `json:"subject_contains,omitempty"`
	IsMailingList   *bool  `json:"is_mailing_list,omitempty"`
	HasAttachment   *bool  `json:"has_attachment,omitempty"`

	// actions
	Category   *Category `json:"category,omitempty"`
	Priority   *int      `json:"priority,omitempty"`
	NeedsReply *bool     `json:"needs_reply,omitempty"`
	AutoHandle bool      `json:"auto_handle"`

	CreatedAt time.Time `json:"created_at"`
}

// AutoAction is a configured post-run action over recent classifications.
// MinPriority 只处理数值 >= MinPriority 的分类（不比它更紧急）；0 表示不限
type AutoAction struct {
	Category    Category `yaml:"category"`
	MinPriority int      `yaml:"min_priority"`
	Action      string   `yaml:"action"`
}

const ActionMarkHandled = "mark_handled"
