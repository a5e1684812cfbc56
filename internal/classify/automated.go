package classify

import (
	"regexp"
	"strings"

	"mailtriage/internal/model"
)

// automatedLocalRe matches local parts used by machines rather than people.
var automatedLocalRe = regexp.MustCompile(`^(?:no[-_.]?reply|do[-_.]?not[-_.]?reply|notifications?|notify|mailer[-_.]?daemon|postmaster|bounces?|alerts?|automated|auto[-_.]?confirm|digest|newsletters?|updates?)(?:[+._-].*)?$`)

// bulkDomainMarkers are substrings of delivery-platform sending domains.
var bulkDomainMarkers = []string{
	"sendgrid.net",
	"mailchimp",
	"mcsv.net",
	"mcdlv.net",
	"amazonses.com",
	"mailgun",
	"sparkpostmail",
	"mandrillapp.com",
	"postmarkapp",
	"constantcontact",
	"hubspotemail",
	"mktomail",
	"exacttarget",
	"rsgsv.net",
	"customeriomail",
}

// IsCompanyDomain reports whether domain equals or is a subdomain of one of companyDomains.
func IsCompanyDomain(domain string, companyDomains []string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	for _, c := range companyDomains {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && (domain == c || strings.HasSuffix(domain, "."+c)) {
			return true
		}
	}
	return false
}

// IsAutomatedSender reports a non-human sender outside the user's company domains.
func IsAutomatedSender(addr string, companyDomains []string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return false
	}
	local, domain := addr[:at], addr[at+1:]
	if IsCompanyDomain(domain, companyDomains) {
		return false
	}
	if automatedLocalRe.MatchString(local) {
		return true
	}
	for _, m := range bulkDomainMarkers {
		if strings.Contains(domain, m) {
			return true
		}
	}
	return false
}

// applyAutomatedPolicy clears the reply and approval flags for machine senders.
// Priority and category are the model's call.
func applyAutomatedPolicy(r *model.ClassificationResult, sender string, companyDomains []string) {
	if IsAutomatedSender(sender, companyDomains) {
		r.NeedsReply = false
		r.NeedsApproval = false
	}
}
