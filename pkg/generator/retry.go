package generator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shouni/bfl-image-kit/pkg/adapters"
	"github.com/shouni/bfl-image-kit/pkg/domain"
)

// RetryPolicy は投入時の RateLimit/Transport エラーの再試行方針です。
// 上限は種別ごとの試行回数 (初回を含む) です。
type RetryPolicy struct {
	MaxTransportAttempts int
	MaxRateLimitAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultRetryPolicy returns the submission retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTransportAttempts: 4,
		MaxRateLimitAttempts: 3,
		InitialBackoff:       time.Second,
		MaxBackoff:           10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxTransportAttempts <= 0 {
		p.MaxTransportAttempts = d.MaxTransportAttempts
	}
	if p.MaxRateLimitAttempts <= 0 {
		p.MaxRateLimitAttempts = d.MaxRateLimitAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	// 打ち切りは試行回数で行う
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// retryNotice は再試行の直前に呼ばれます。
type retryNotice func(err error, wait time.Duration)

// submitWithRetry は RateLimit/Transport だけを種別ごとの上限まで再試行します。
// それ以外のエラーは即座に返します。POST した回数も返します。
func submitWithRetry(ctx context.Context, s JobSubmitter, apiKey string, payload *adapters.Payload, policy RetryPolicy, notify retryNotice) (domain.JobHandle, int, error) {
	policy = policy.withDefaults()

	var (
		handle      domain.JobHandle
		attempts    int
		rateLimited int
		transport   int
	)
	op := func() error {
		attempts++
		h, err := s.Submit(ctx, apiKey, payload)
		if err == nil {
			handle = h
			return nil
		}
		switch domain.KindOf(err) {
		case domain.KindRateLimit:
			rateLimited++
			if rateLimited >= policy.MaxRateLimitAttempts {
				return backoff.Permanent(err)
			}
			return err
		case domain.KindTransport:
			transport++
			if transport >= policy.MaxTransportAttempts {
				return backoff.Permanent(err)
			}
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	err := backoff.RetryNotify(op, policy.newBackOff(ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, wait)
		}
	})
	return handle, attempts, err
}
