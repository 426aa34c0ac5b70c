package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited 为 Describer 加上请求速率限制
type RateLimited struct {
	Describer
	limiter *rate.Limiter
}

// WithRateLimit 每秒最多 perSecond 次请求；perSecond <= 0 时原样返回
func WithRateLimit(d Describer, perSecond float64) Describer {
	if perSecond <= 0 {
		return d
	}
	return &RateLimited{
		Describer: d,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Describe 等待令牌后再调用底层提供方
func (r *RateLimited) Describe(ctx context.Context, img Image, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", &Error{Provider: r.Name(), Err: fmt.Errorf("rate limiter wait failed: %w", err)}
	}
	return r.Describer.Describe(ctx, img, prompt)
}

// Check 连接测试不受限流
func (r *RateLimited) Check(ctx context.Context) error {
	if c, ok := r.Describer.(Checker); ok {
		return c.Check(ctx)
	}
	return nil
}
