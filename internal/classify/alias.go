package classify

import (
	"strings"

	"mailtriage/internal/model"
)

// categoryAliases maps normalized model output (lowercase, '-' separated) to the taxonomy.
var categoryAliases = map[string]model.Category{
	// reply-needed
	"reply":             model.CategoryReplyNeeded,
	"needs-reply":       model.CategoryReplyNeeded,
	"reply-required":    model.CategoryReplyNeeded,
	"response-needed":   model.CategoryReplyNeeded,
	"response-required": model.CategoryReplyNeeded,
	"respond":           model.CategoryReplyNeeded,
	"question":          model.CategoryReplyNeeded,
	"awaiting-reply":    model.CategoryReplyNeeded,

	// approval
	"approve":         model.CategoryApproval,
	"approval-needed": model.CategoryApproval,
	"needs-approval":  model.CategoryApproval,
	"sign-off":        model.CategoryApproval,
	"signoff":         model.CategoryApproval,
	"review":          model.CategoryApproval,
	"authorization":   model.CategoryApproval,

	// task
	"todo":            model.CategoryTask,
	"to-do":           model.CategoryTask,
	"action":          model.CategoryTask,
	"action-item":     model.CategoryTask,
	"action-required": model.CategoryTask,
	"request":         model.CategoryTask,
	"assignment":      model.CategoryTask,

	// meeting
	"calendar":        model.CategoryMeeting,
	"invite":          model.CategoryMeeting,
	"invitation":      model.CategoryMeeting,
	"event":           model.CategoryMeeting,
	"meeting-request": model.CategoryMeeting,
	"scheduling":      model.CategoryMeeting,
	"appointment":     model.CategoryMeeting,

	// finance
	"invoice":   model.CategoryFinance,
	"receipt":   model.CategoryFinance,
	"billing":   model.CategoryFinance,
	"bill":      model.CategoryFinance,
	"payment":   model.CategoryFinance,
	"bank":      model.CategoryFinance,
	"banking":   model.CategoryFinance,
	"financial": model.CategoryFinance,
	"expense":   model.CategoryFinance,
	"tax":       model.CategoryFinance,

	// shipping
	"delivery": model.CategoryShipping,
	"order":    model.CategoryShipping,
	"orders":   model.CategoryShipping,
	"package":  model.CategoryShipping,
	"tracking": model.CategoryShipping,
	"shipment": model.CategoryShipping,
	"purchase": model.CategoryShipping,

	// security
	"security-alert":   model.CategorySecurity,
	"account-security": model.CategorySecurity,
	"login":            model.CategorySecurity,
	"password":         model.CategorySecurity,
	"2fa":              model.CategorySecurity,
	"verification":     model.CategorySecurity,
	"fraud":            model.CategorySecurity,

	// travel
	"flight":      model.CategoryTravel,
	"hotel":       model.CategoryTravel,
	"booking":     model.CategoryTravel,
	"trip":        model.CategoryTravel,
	"itinerary":   model.CategoryTravel,
	"reservation": model.CategoryTravel,

	// social
	"social-media":   model.CategorySocial,
	"social-network": model.CategorySocial,
	"linkedin":       model.CategorySocial,
	"community":      model.CategorySocial,
	"forum":          model.CategorySocial,

	// newsletter
	"digest":       model.CategoryNewsletter,
	"news":         model.CategoryNewsletter,
	"newsletters":  model.CategoryNewsletter,
	"subscription": model.CategoryNewsletter,
	"blog":         model.CategoryNewsletter,
	"mailing-list": model.CategoryNewsletter,

	// promotion
	"marketing":     model.CategoryPromotion,
	"promo":         model.CategoryPromotion,
	"promotions":    model.CategoryPromotion,
	"promotional":   model.CategoryPromotion,
	"sale":          model.CategoryPromotion,
	"deal":          model.CategoryPromotion,
	"deals":         model.CategoryPromotion,
	"offer":         model.CategoryPromotion,
	"advertisement": model.CategoryPromotion,
	"ad":            model.CategoryPromotion,

	// notification
	"notifications": model.CategoryNotification,
	"automated":     model.CategoryNotification,
	"system":        model.CategoryNotification,
	"alert":         model.CategoryNotification,
	"alerts":        model.CategoryNotification,
	"update":        model.CategoryNotification,
	"status-update": model.CategoryNotification,

	// personal
	"family":  model.CategoryPersonal,
	"friend":  model.CategoryPersonal,
	"friends": model.CategoryPersonal,
	"private": model.CategoryPersonal,

	// support
	"customer-support": model.CategorySupport,
	"customer-service": model.CategorySupport,
	"help":             model.CategorySupport,
	"helpdesk":         model.CategorySupport,
	"ticket":           model.CategorySupport,

	// spam
	"junk":     model.CategorySpam,
	"phishing": model.CategorySpam,
	"scam":     model.CategorySpam,

	// fyi
	"info":                 model.CategoryFYI,
	"information":          model.CategoryFYI,
	"informational":        model.CategoryFYI,
	"for-your-information": model.CategoryFYI,
	"general":              model.CategoryFYI,
	"other":                model.CategoryFYI,
	"misc":                 model.CategoryFYI,
	"none":                 model.CategoryFYI,
}

var categoryKeyReplacer = strings.NewReplacer("_", "-", " ", "-", "/", "-")

// NormalizeCategory maps any model output onto the taxonomy. Unknown values become fyi.
func NormalizeCategory(s string) model.Category {
	key := categoryKeyReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
	if c := model.Category(key); c.Valid() {
		return c
	}
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	return model.CategoryFYI
}
