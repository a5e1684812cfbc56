package llm

import (
	"context"

	"go.uber.org/zap"

	"mailtriage/pkg/util"
)

// FallbackProvider routes to a secondary provider when the primary is out of
// quota or unreachable.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
	logger    *zap.Logger
}

func NewFallbackProvider(primary, secondary Provider, logger *zap.Logger) *FallbackProvider {
	return &FallbackProvider{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackProvider) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *FallbackProvider) Complete(ctx context.Context, r Request) (string, error) {
	out, err := f.primary.Complete(ctx, r)
	if err == nil {
		return out, nil
	}
	if !util.IsRateLimit(err) && !util.IsConnectionError(err) {
		return "", err
	}

	f.logger.Warn("Primary LLM provider unavailable, falling back",
		zap.String("primary", f.primary.Name()),
		zap.String("secondary", f.secondary.Name()),
		zap.Error(err),
	)
	return f.secondary.Complete(ctx, r)
}
