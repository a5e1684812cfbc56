package mailsource

import (
	"strings"

	"mailtriage/internal/model"

	"github.com/emersion/go-message/mail"
)

// applyHeaders copies addressing, threading and list markers from the RFC 5322 header.
// Fields already set by the provider (dates, thread id) are kept.
func applyHeaders(e *model.NormalizedEmail, h mail.Header) {
	if from := addressList(h, "From"); len(from) > 0 {
		e.From = from[0]
	}
	e.To = addressList(h, "To")
	e.Cc = addressList(h, "Cc")
	e.ReplyTo = addressList(h, "Reply-To")

	if subject, err := h.Subject(); err == nil {
		e.Subject = subject
	} else {
		e.Subject = h.Get("Subject")
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		e.MessageID = id
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		e.InReplyTo = ids[0]
	}
	if e.ThreadID == "" {
		// 线程根：References 的第一个，其次 In-Reply-To
		if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
			e.ThreadID = refs[0]
		} else if e.InReplyTo != "" {
			e.ThreadID = e.InReplyTo
		}
	}
	if e.ReceivedAt.IsZero() {
		if d, err := h.Date(); err == nil {
			e.ReceivedAt = d
		}
	}

	e.ListID = strings.TrimSpace(h.Get("List-Id"))
	e.ListUnsubscribe = strings.TrimSpace(h.Get("List-Unsubscribe"))
	e.Precedence = strings.TrimSpace(h.Get("Precedence"))
}

func addressList(h mail.Header, key string) []model.Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]model.Address, 0, len(list))
	for _, a := range list {
		out = append(out, model.Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out
}
