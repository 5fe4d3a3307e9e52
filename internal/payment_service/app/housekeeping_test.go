package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

func newHousekeeper(f *fixture) *Housekeeper {
	return NewHousekeeper(f.store, f.store, f.reconciler, HousekeeperConfig{
		PendingTTL: 24 * time.Hour,
		Retention:  30 * 24 * time.Hour,
		Interval:   10 * time.Millisecond,
		BatchSize:  50,
	}, testLogger())
}

func seedSession(t *testing.T, f *fixture, id string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), &domain.PaymentSession{
		ID: id, UserID: "user-1", PackageID: "spare-10", Category: domain.CategorySpareParts,
		Credits: 12, Amount: decimal.NewFromInt(50), Currency: "AED",
		Status: domain.SessionStatusPending, GatewayProvider: "fake",
		CreatedAt: createdAt, UpdatedAt: createdAt,
	}))
}

func TestSweepExpired(t *testing.T) {
	gw := new(MockGateway)
	f := newFixture(t, gw)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	seedSession(t, f, "abandoned", old)
	seedSession(t, f, "paid-late", old)
	seedSession(t, f, "gateway-down", old)
	seedSession(t, f, "fresh", time.Now().UTC())

	gw.On("ConfirmOutcome", mock.Anything, "abandoned").Return(&domain.GatewayOutcome{Outcome: domain.OutcomePending}, nil).Once()
	gw.On("ConfirmOutcome", mock.Anything, "paid-late").Return(succeededOutcome(50), nil).Once()
	gw.On("ConfirmOutcome", mock.Anything, "gateway-down").Return(nil, domain.ErrGatewayUnavailable)

	report, err := newHousekeeper(f).SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Examined: 3, Expired: 1, Resolved: 1, Skipped: 1}, report)

	abandoned, err := f.store.GetByID(ctx, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusExpired, abandoned.Status)

	paid, err := f.store.GetByID(ctx, "paid-late")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusSucceeded, paid.Status)
	bal, err := f.store.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 12, bal.SparePartsCredits)

	down, err := f.store.GetByID(ctx, "gateway-down")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, down.Status)

	fresh, err := f.store.GetByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, fresh.Status)
	gw.AssertNotCalled(t, "ConfirmOutcome", mock.Anything, "fresh")

	assert.ElementsMatch(t, []string{"payments.session.expired", "payments.session.succeeded"}, f.events.Subjects())
}

func TestSweepExpired_SkippedSessionsDoNotBlockTheBacklog(t *testing.T) {
	gw := new(MockGateway)
	f := newFixture(t, gw)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	seedSession(t, f, "mismatch", old.Add(-time.Hour))
	seedSession(t, f, "abandoned", old)
	gw.On("ConfirmOutcome", mock.Anything, "mismatch").Return(succeededOutcome(49), nil)
	gw.On("ConfirmOutcome", mock.Anything, "abandoned").Return(&domain.GatewayOutcome{Outcome: domain.OutcomePending}, nil).Once()

	hk := NewHousekeeper(f.store, f.store, f.reconciler, HousekeeperConfig{
		PendingTTL: 24 * time.Hour,
		Interval:   time.Minute,
		BatchSize:  1,
	}, testLogger())

	first, err := hk.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Examined: 1, Skipped: 1}, first)

	second, err := hk.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Examined: 1, Expired: 1}, second)

	abandoned, err := f.store.GetByID(ctx, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusExpired, abandoned.Status)

	mismatch, err := f.store.GetByID(ctx, "mismatch")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, mismatch.Status)
	assert.True(t, mismatch.UpdatedAt.After(old))

	bal, err := f.store.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, bal.SparePartsCredits)
}

func TestRepairUncredited(t *testing.T) {
	f := newFixture(t, new(MockGateway))
	ctx := context.Background()
	seedSession(t, f, "orphan", time.Now().UTC())
	_, won, err := f.store.TransitionTerminal(ctx, "orphan", domain.SessionStatusSucceeded, "")
	require.NoError(t, err)
	require.True(t, won)

	hk := newHousekeeper(f)
	n, err := hk.RepairUncredited(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = hk.RepairUncredited(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	bal, err := f.store.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 12, bal.SparePartsCredits)
}

func TestPurgeResolved(t *testing.T) {
	f := newFixture(t, new(MockGateway))
	ctx := context.Background()
	longAgo := time.Now().UTC().Add(-90 * 24 * time.Hour)

	seedSession(t, f, "old-cancelled", longAgo)
	seedSession(t, f, "recent-declined", time.Now().UTC())
	f.store.SetClock(func() time.Time { return longAgo })
	_, _, err := f.store.TransitionTerminal(ctx, "old-cancelled", domain.SessionStatusCancelled, "")
	require.NoError(t, err)
	f.store.SetClock(func() time.Time { return time.Now().UTC() })
	_, _, err = f.store.TransitionTerminal(ctx, "recent-declined", domain.SessionStatusDeclined, "card expired")
	require.NoError(t, err)

	n, err := newHousekeeper(f).PurgeResolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.store.GetByID(ctx, "old-cancelled")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.store.GetByID(ctx, "recent-declined")
	assert.NoError(t, err)
}

func TestHousekeeperRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, new(MockGateway))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newHousekeeper(f).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("housekeeping loop did not stop")
	}
}

func TestCreditsService_Entries(t *testing.T) {
	gw := new(MockGateway)
	f := newFixture(t, gw)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s := f.newSession(t, "user-1", "spare-10")
		gw.On("ConfirmOutcome", mock.Anything, s.ID).Return(succeededOutcome(50), nil).Once()
		_, err := f.reconciler.Reconcile(ctx, s.ID, domain.OutcomeSucceeded)
		require.NoError(t, err)
	}

	svc := NewCreditsService(f.store, testLogger())
	bal, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 36, bal.SparePartsCredits)

	page, err := svc.Entries(ctx, "user-1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := svc.Entries(ctx, "user-1", 0, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none, err := svc.Entries(ctx, "nobody", 500, -3)
	require.NoError(t, err)
	assert.Empty(t, none)
}
