package service

import (
	"context"
	"time"

	"github.com/user/movierec/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter 批次之间的准入控制，流水线在第 2 批起每批开始前调用 Wait
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// FixedDelay 固定间隔（默认策略，对应按分钟计费配额的向量服务）
type FixedDelay struct {
	Delay time.Duration
}

func (f FixedDelay) Wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TokenBucket 令牌桶，rps 为每秒放行的批次数
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket 创建令牌桶
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// NoDelay 不限速，仅响应取消
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context) error {
	return ctx.Err()
}

// NewRateLimiter 按配置选择限速策略
func NewRateLimiter(cfg config.PipelineConfig) RateLimiter {
	switch cfg.RatePolicy {
	case "token":
		if cfg.RateRPS > 0 {
			return NewTokenBucket(cfg.RateRPS, 1)
		}
	case "none":
		return NoDelay{}
	}
	return FixedDelay{Delay: cfg.BatchDelay}
}
