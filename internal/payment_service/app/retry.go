package app

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

// RetryPolicy bounds how hard we try the gateway before giving up.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	CallTimeout    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 200 * time.Millisecond
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = 10 * time.Second
	}
	return p
}

func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(p.MaxAttempts-1)), ctx)
}

// Budget is the longest a gateway call under this policy can take: every attempt
// running into CallTimeout plus the largest randomized wait between attempts.
func (p RetryPolicy) Budget() time.Duration {
	p = p.withDefaults()
	b := p.exponential()
	total := time.Duration(p.MaxAttempts) * p.CallTimeout
	interval := float64(b.InitialInterval)
	for i := 1; i < p.MaxAttempts; i++ {
		total += time.Duration(interval*(1+b.RandomizationFactor)) + time.Millisecond
		interval = math.Min(interval*b.Multiplier, float64(b.MaxInterval))
	}
	return total
}

// isTransient reports whether a gateway error is worth retrying.
func isTransient(err error) bool {
	return errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// callGateway runs call with a per-attempt timeout, retrying transient failures with
// exponential backoff. Non-transient errors stop the loop immediately. The returned
// error is the last one seen, or the context error if ctx ended first.
func callGateway[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, provider, operation string, call func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var (
		result  T
		attempt int
	)
	op := func() error {
		attempt++
		if attempt > 1 {
			gatewayRetriesCounter.WithLabelValues(provider, operation).Inc()
		}
		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		defer cancel()

		timer := prometheus.NewTimer(gatewayRequestDurationHist.WithLabelValues(provider, operation))
		res, err := call(callCtx)
		timer.ObserveDuration()
		if err == nil {
			result = res
			return nil
		}
		if isTransient(err) {
			logger.WarnContext(ctx, "Transient gateway failure", "operation", operation, "attempt", attempt, "max_attempts", p.MaxAttempts, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, p.backOff(ctx))
	return result, err
}
