package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

func TestRetryPolicy_Budget(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, CallTimeout: 10 * time.Second}

	// Three 10s attempts plus at most 300ms and 450ms of randomized backoff.
	assert.Equal(t, 30*time.Second+752*time.Millisecond, p.Budget())
	assert.Greater(t, p.Budget(), time.Duration(p.MaxAttempts)*p.CallTimeout)
	assert.Equal(t, p.Budget(), RetryPolicy{}.Budget())

	single := RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Second, CallTimeout: 2 * time.Second}
	assert.Equal(t, 2*time.Second, single.Budget())
}

func TestCallGateway_TimeoutsStayWithinBudget(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, CallTimeout: 20 * time.Millisecond}
	calls := 0

	start := time.Now()
	_, err := callGateway(context.Background(), p, testLogger(), "fake", "confirm_outcome",
		func(ctx context.Context) (*domain.GatewayOutcome, error) {
			calls++
			<-ctx.Done()
			return nil, ctx.Err()
		})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, elapsed, 3*p.CallTimeout)
	// Scheduling jitter aside, the loop never runs past the computed budget.
	assert.Less(t, elapsed, p.Budget()+250*time.Millisecond)
}
