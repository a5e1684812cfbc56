package model

// Category is one value of the fixed triage taxonomy.
type Category string

const (
	CategoryReplyNeeded  Category = "reply-needed"
	CategoryApproval     Category = "approval"
	CategoryTask         Category = "task"
	CategoryMeeting      Category = "meeting"
	CategoryFinance      Category = "finance"
	CategoryShipping     Category = "shipping"
	CategorySecurity     Category = "security"
	CategoryTravel       Category = "travel"
	CategorySocial       Category = "social"
	CategoryNewsletter   Category = "newsletter"
	CategoryPromotion    Category = "promotion"
	CategoryNotification Category = "notification"
	CategoryPersonal     Category = "personal"
	CategorySupport      Category = "support"
	CategorySpam         Category = "spam"
	CategoryFYI          Category = "fyi"
)

// Categories lists the taxonomy in prompt order.
var Categories = []Category{
	CategoryReplyNeeded,
	CategoryApproval,
	CategoryTask,
	CategoryMeeting,
	CategoryFinance,
	CategoryShipping,
	CategorySecurity,
	CategoryTravel,
	CategorySocial,
	CategoryNewsletter,
	CategoryPromotion,
	CategoryNotification,
	CategoryPersonal,
	CategorySupport,
	CategorySpam,
	CategoryFYI,
}

// Valid reports whether c is a taxonomy value.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}
