package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited bounds the rate of calls reaching the wrapped provider. Callers
// block until a token is available or their context ends.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst. A
// burst below one is raised to one.
func NewRateLimited(p Provider, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// EmbedDocuments waits for a token, then delegates.
func (r *RateLimited) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", ErrEmbeddingFailed, err)
	}
	return r.Provider.EmbedDocuments(ctx, texts)
}

// EmbedQuery waits for a token, then delegates.
func (r *RateLimited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", ErrEmbeddingFailed, err)
	}
	return r.Provider.EmbedQuery(ctx, text)
}
