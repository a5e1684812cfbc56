package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request 一次补全请求：系统指令 + 单条用户消息
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Provider is a chat-completion backend returning the raw text of the reply.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrRateLimited is returned (wrapped) when the provider throttles us.
var ErrRateLimited = errors.New("llm: rate limited")

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, body)
}

// Retryable is true for server-side and timeout statuses.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == 408 || e.Code == 429
}

func (e *StatusError) Kind() string {
	if e.Code >= 500 {
		return "llm_server_error"
	}
	return "llm_client_error"
}

// RateLimited reports a 429.
func (e *StatusError) RateLimited() bool {
	return e.Code == 429
}

// Is lets errors.Is(err, ErrRateLimited) match a 429 StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Code == 429
}
