package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

func TestCreateSession_SnapshotsPackage(t *testing.T) {
	f := newFixture(t, new(MockGateway))

	s := f.newSession(t, "user-1", "spare-10")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "user-1", s.UserID)
	assert.Equal(t, "spare-10", s.PackageID)
	assert.Equal(t, domain.CategorySpareParts, s.Category)
	assert.Equal(t, 12, s.Credits)
	assert.True(t, s.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "AED", s.Currency)
	assert.Equal(t, domain.SessionStatusPending, s.Status)
	assert.Equal(t, "fake", s.GatewayProvider)

	stored, err := f.store.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, stored.ID)

	other := f.newSession(t, "user-1", "spare-10")
	assert.NotEqual(t, s.ID, other.ID)
}

func TestCreateSession_InvalidPackage(t *testing.T) {
	f := newFixture(t, new(MockGateway))
	ctx := context.Background()

	_, err := f.checkout.CreateSession(ctx, "user-1", "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrInvalidPackage)

	_, err = f.checkout.CreateSession(ctx, "user-1", "legacy")
	assert.ErrorIs(t, err, domain.ErrInvalidPackage)

	_, err = f.checkout.CreateSession(ctx, "", "spare-10")
	assert.Error(t, err)
}

func TestStartCheckout_Success(t *testing.T) {
	gw := new(MockGateway)
	f := newFixture(t, gw)
	buyer := domain.Buyer{Email: "buyer@example.com", FirstName: "Sara", LastName: "K", Phone: "+971500000001"}

	gw.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req domain.OrderRequest) bool {
		return req.Amount.Equal(decimal.NewFromInt(50)) &&
			req.Currency == "AED" &&
			req.Buyer == buyer &&
			req.Description == "Spare parts starter (12 credits)" &&
			req.Returns == ReturnURLsFor("https://pay.partsmarket.test", req.SessionID)
	})).Return(&domain.OrderResponse{OrderRef: "ORD-1", RedirectURL: "https://gateway.test/pay/ORD-1"}, nil).Once()

	res, err := f.checkout.StartCheckout(context.Background(), "user-1", "spare-10", buyer)
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.test/pay/ORD-1", res.RedirectURL)
	require.NotNil(t, res.Session.GatewayOrderRef)
	assert.Equal(t, "ORD-1", *res.Session.GatewayOrderRef)

	stored, err := f.store.GetByID(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, stored.Status)
	require.NotNil(t, stored.GatewayOrderRef)
	assert.Equal(t, "ORD-1", *stored.GatewayOrderRef)
	gw.AssertExpectations(t)
}

func TestStartCheckout_RejectedOrderDeclinesSession(t *testing.T) {
	gw := new(MockGateway)
	f := newFixture(t, gw)
	gw.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, domain.ErrGatewayRejected).Once()

	res, err := f.checkout.StartCheckout(context.Background(), "user-1", "spare-10", domain.Buyer{})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	gw.AssertNumberOfCalls(t, "CreateOrder", 1)

	pending, err := f.store.ListPendingBefore(context.Background(), f.checkout.now().Add(1), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []string{"payments.session.declined"}, f.events.Subjects())
}

func TestStartCheckout_GatewayUnavailable(t *testing.T) {
	gw := new(MockGateway)
	f := newFixture(t, gw)
	var sessionID string
	gw.On("CreateOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sessionID = args.Get(1).(domain.OrderRequest).SessionID }).
		Return(nil, domain.ErrGatewayUnavailable)

	_, err := f.checkout.StartCheckout(context.Background(), "user-1", "spare-10", domain.Buyer{})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	gw.AssertNumberOfCalls(t, "CreateOrder", testRetryPolicy.MaxAttempts)

	stored, err := f.store.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, stored.Status)
	assert.Nil(t, stored.GatewayOrderRef)
}

func TestStartCheckout_InvalidPackageNeverReachesGateway(t *testing.T) {
	gw := new(MockGateway)
	f := newFixture(t, gw)

	_, err := f.checkout.StartCheckout(context.Background(), "user-1", "legacy", domain.Buyer{})
	assert.ErrorIs(t, err, domain.ErrInvalidPackage)
	gw.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestGetSession_OnlyOwner(t *testing.T) {
	f := newFixture(t, new(MockGateway))
	s := f.newSession(t, "user-1", "spare-10")

	got, err := f.checkout.GetSession(context.Background(), "user-1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = f.checkout.GetSession(context.Background(), "user-2", s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.checkout.GetSession(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestReturnURLsFor(t *testing.T) {
	urls := ReturnURLsFor("https://pay.partsmarket.test/", "abc-123")
	assert.Equal(t, "https://pay.partsmarket.test/payment/return/success?session=abc-123", urls.Success)
	assert.Equal(t, "https://pay.partsmarket.test/payment/return/declined?session=abc-123", urls.Declined)
	assert.Equal(t, "https://pay.partsmarket.test/payment/return/cancelled?session=abc-123", urls.Cancelled)
}
