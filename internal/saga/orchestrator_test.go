package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-checkout/internal/ledger"
	"ticket-checkout/internal/notify"
	"ticket-checkout/internal/payment"
	"ticket-checkout/internal/reservation"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

var _ payment.Adapter = (*fakeGateway)(nil)

// fakeGateway scripts gateway behavior and counts charges so tests can prove
// nothing was charged twice.
type fakeGateway struct {
	mu            sync.Mutex
	calls         int
	declineReason string
	blockOnCtx    bool
}

func (f *fakeGateway) Charge(ctx context.Context, instrument models.PaymentInstrument, amount decimal.Decimal, idempotencyKey string) (*models.ChargeResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.blockOnCtx {
		<-ctx.Done()
		return nil, status.ErrPaymentTimeout
	}

	result := &models.ChargeResult{
		ChargeID:    "PAY-TEST",
		Amount:      amount,
		ProcessedAt: time.Now(),
	}
	if f.declineReason != "" {
		result.Status = models.ChargeDeclined
		result.Reason = f.declineReason
	} else {
		result.Status = models.ChargeApproved
	}
	return result, nil
}

func (f *fakeGateway) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// flakyConfirmStore fails Confirm a set number of times, then delegates.
type flakyConfirmStore struct {
	reservation.Store

	mu       sync.Mutex
	failures int
}

func (s *flakyConfirmStore) Confirm(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, assert.AnError
	}
	s.mu.Unlock()
	return s.Store.Confirm(ctx, id)
}

// failingReleaseStore breaks every Release so compensation can be observed
// degrading instead of succeeding.
type failingReleaseStore struct {
	reservation.Store
}

func (s *failingReleaseStore) Release(ctx context.Context, id string) error {
	return assert.AnError
}

type testEnv struct {
	ledger       *ledger.MemoryLedger
	store        reservation.Store
	repo         *MemoryRepo
	gateway      *fakeGateway
	orchestrator *Orchestrator
}

func setupTestEnv(t *testing.T, pools map[string]int64) *testEnv {
	t.Helper()

	l := ledger.NewMemoryLedger()
	for id, total := range pools {
		err := l.Register(context.Background(), &models.TicketType{
			ID:        id,
			EventID:   "evt-1",
			Name:      id,
			UnitPrice: decimal.NewFromInt(100),
			Total:     total,
			Available: total,
		})
		require.NoError(t, err)
	}

	env := &testEnv{
		ledger:  l,
		store:   reservation.NewMemoryStore(l),
		repo:    NewMemoryRepo(),
		gateway: &fakeGateway{},
	}
	env.orchestrator = NewOrchestrator(
		env.ledger, env.store, env.repo, env.gateway,
		notify.New(nil), nil,
		5*time.Minute, 100*time.Millisecond,
	)
	return env
}

func (e *testEnv) available(t *testing.T, ticketTypeID string) int64 {
	t.Helper()
	tt, err := e.ledger.Get(context.Background(), ticketTypeID)
	require.NoError(t, err)
	return tt.Available
}

func purchaseReq(corrID string, items ...models.LineItem) PurchaseRequest {
	return PurchaseRequest{
		CorrelationID: corrID,
		BuyerID:       "buyer-1",
		LineItems:     items,
		Instrument: models.PaymentInstrument{
			CardNumber: "4111111111111111",
			CardHolder: "Test Buyer",
			CVV:        "123",
			ExpiryDate: "12/30",
		},
	}
}

func TestOrchestrator_CommittedHappyPath(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})

	result, err := env.orchestrator.Purchase(context.Background(),
		purchaseReq("corr-1", models.LineItem{TicketTypeID: "tt-ga", Quantity: 2}))

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCommitted, result.Outcome)
	assert.Len(t, result.TicketIDs, 1)
	assert.True(t, result.TotalCharged.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "PAY-TEST", result.ChargeID)

	// Confirmed reservations keep their units
	assert.Equal(t, int64(8), env.available(t, "tt-ga"))
	assert.Equal(t, 1, env.gateway.chargeCount())
}

func TestOrchestrator_DeclinedCompensates(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	env.gateway.declineReason = "insufficient funds"

	result, err := env.orchestrator.Purchase(context.Background(),
		purchaseReq("corr-2", models.LineItem{TicketTypeID: "tt-ga", Quantity: 3}))

	assert.ErrorIs(t, err, status.ErrPaymentDeclined)
	assert.Equal(t, models.OutcomeCompensated, result.Outcome)
	assert.Empty(t, result.TicketIDs)

	// Full availability restored, zero tickets issued
	assert.Equal(t, int64(10), env.available(t, "tt-ga"))

	tickets, err := env.store.TicketsByBuyer(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestOrchestrator_TimeoutCompensates(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	env.gateway.blockOnCtx = true

	result, err := env.orchestrator.Purchase(context.Background(),
		purchaseReq("corr-3", models.LineItem{TicketTypeID: "tt-ga", Quantity: 2}))

	assert.ErrorIs(t, err, status.ErrPaymentTimeout)
	assert.Equal(t, models.OutcomeCompensated, result.Outcome)
	assert.Equal(t, int64(10), env.available(t, "tt-ga"))
}

func TestOrchestrator_PartialReserveReleasesAll(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{
		"tt-a": 10,
		"tt-b": 10,
		"tt-c": 1,
	})

	result, err := env.orchestrator.Purchase(context.Background(),
		purchaseReq("corr-4",
			models.LineItem{TicketTypeID: "tt-a", Quantity: 2},
			models.LineItem{TicketTypeID: "tt-b", Quantity: 2},
			models.LineItem{TicketTypeID: "tt-c", Quantity: 2},
		))

	assert.ErrorIs(t, err, status.ErrInsufficientInventory)
	assert.Equal(t, models.OutcomeCompensated, result.Outcome)

	// The first two reservations were released, the third never happened
	assert.Equal(t, int64(10), env.available(t, "tt-a"))
	assert.Equal(t, int64(10), env.available(t, "tt-b"))
	assert.Equal(t, int64(1), env.available(t, "tt-c"))

	// No charge was ever attempted
	assert.Equal(t, 0, env.gateway.chargeCount())
}

func TestOrchestrator_CommittedReplayIsSideEffectFree(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	ctx := context.Background()
	req := purchaseReq("corr-5", models.LineItem{TicketTypeID: "tt-ga", Quantity: 2})

	first, err := env.orchestrator.Purchase(ctx, req)
	require.NoError(t, err)

	second, err := env.orchestrator.Purchase(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.TicketIDs, second.TicketIDs)
	assert.Equal(t, first.ChargeID, second.ChargeID)
	assert.Equal(t, 1, env.gateway.chargeCount())
	assert.Equal(t, int64(8), env.available(t, "tt-ga"))
}

func TestOrchestrator_CompensatedReplayKeepsFailure(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	env.gateway.declineReason = "insufficient funds"
	ctx := context.Background()
	req := purchaseReq("corr-6", models.LineItem{TicketTypeID: "tt-ga", Quantity: 1})

	_, err := env.orchestrator.Purchase(ctx, req)
	assert.ErrorIs(t, err, status.ErrPaymentDeclined)

	result, err := env.orchestrator.Purchase(ctx, req)
	assert.ErrorIs(t, err, status.ErrPaymentDeclined)
	assert.Equal(t, models.OutcomeCompensated, result.Outcome)
	assert.Equal(t, 1, env.gateway.chargeCount())
}

func TestOrchestrator_InProgressDuplicateRejected(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	ctx := context.Background()

	// Simulate a saga still running by pre-claiming the correlation id
	_, started, err := env.repo.Begin(ctx, &models.PurchaseSaga{
		CorrelationID: "corr-7",
		BuyerID:       "buyer-1",
		Step:          models.StepCharging,
		Outcome:       models.OutcomePending,
	})
	require.NoError(t, err)
	require.True(t, started)

	_, err = env.orchestrator.Purchase(ctx,
		purchaseReq("corr-7", models.LineItem{TicketTypeID: "tt-ga", Quantity: 1}))
	assert.ErrorIs(t, err, status.ErrSagaInProgress)
}

func TestOrchestrator_CapacityOneConcurrentPurchases(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-last": 1})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			corr := "corr-race-a"
			if i == 1 {
				corr = "corr-race-b"
			}
			_, errs[i] = env.orchestrator.Purchase(ctx,
				purchaseReq(corr, models.LineItem{TicketTypeID: "tt-last", Quantity: 1}))
		}(i)
	}
	wg.Wait()

	committed, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, status.ErrInsufficientInventory):
			insufficient++
		}
	}

	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(0), env.available(t, "tt-last"))
	assert.Equal(t, 1, env.gateway.chargeCount())
}

func TestOrchestrator_ConfirmFailureOrphansThenReconciles(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	ctx := context.Background()

	flaky := &flakyConfirmStore{Store: env.store, failures: 1}
	env.orchestrator.store = flaky

	result, err := env.orchestrator.Purchase(ctx,
		purchaseReq("corr-8", models.LineItem{TicketTypeID: "tt-ga", Quantity: 2}))

	assert.ErrorIs(t, err, status.ErrPurchaseOrphaned)
	assert.Equal(t, models.OutcomeFailedOrphan, result.Outcome)

	// No compensation: money is captured, the hold stays
	assert.Equal(t, int64(8), env.available(t, "tt-ga"))

	orphans, err := env.repo.ListOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"corr-8"}, orphans)

	// Reconciler retries Confirm and promotes the saga
	promoted, err := env.orchestrator.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	record, err := env.repo.Get(ctx, "corr-8")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCommitted, record.Outcome)
	assert.Len(t, record.TicketIDs, 1)

	orphans, err = env.repo.ListOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// Exactly one ticket despite the retry, and exactly one charge
	tickets, err := env.store.TicketsByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
	assert.Equal(t, 1, env.gateway.chargeCount())
	assert.Equal(t, int64(8), env.available(t, "tt-ga"))
}

func TestOrchestrator_ReplayRejectsDifferentBuyer(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	ctx := context.Background()
	req := purchaseReq("corr-shared", models.LineItem{TicketTypeID: "tt-ga", Quantity: 1})

	first, err := env.orchestrator.Purchase(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.TicketIDs)

	// A different buyer reusing the correlation id learns nothing
	intruder := req
	intruder.BuyerID = "buyer-2"
	result, err := env.orchestrator.Purchase(ctx, intruder)
	assert.ErrorIs(t, err, status.ErrSagaBuyerMismatch)
	assert.Nil(t, result)

	// The owner's replay still works
	replay, err := env.orchestrator.Purchase(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TicketIDs, replay.TicketIDs)
	assert.Equal(t, first.ChargeID, replay.ChargeID)
	assert.Equal(t, 1, env.gateway.chargeCount())
}

func TestOrchestrator_RecoverStalledAfterCharge(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	ctx := context.Background()

	// A dead process got as far as capturing payment but never confirmed
	res, err := env.store.Create(ctx, "tt-ga", "buyer-1", 2, 5*time.Minute)
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	_, started, err := env.repo.Begin(ctx, &models.PurchaseSaga{
		CorrelationID:  "corr-crash",
		BuyerID:        "buyer-1",
		LineItems:      []models.LineItem{{TicketTypeID: "tt-ga", Quantity: 2}},
		ReservationIDs: []string{res.ID},
		Step:           models.StepConfirming,
		Outcome:        models.OutcomePending,
		TotalCharged:   decimal.NewFromInt(200),
		ChargeID:       "PAY-TEST",
		CreatedAt:      stale,
		UpdatedAt:      stale,
	})
	require.NoError(t, err)
	require.True(t, started)

	recovered, err := env.orchestrator.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	record, err := env.repo.Get(ctx, "corr-crash")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailedOrphan, record.Outcome)

	// Money is captured, so the hold is kept for the reconciler
	assert.Equal(t, int64(8), env.available(t, "tt-ga"))

	promoted, err := env.orchestrator.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	record, err = env.repo.Get(ctx, "corr-crash")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCommitted, record.Outcome)
	assert.Len(t, record.TicketIDs, 1)
	assert.Equal(t, int64(8), env.available(t, "tt-ga"))
}

func TestOrchestrator_RecoverStalledBeforeCharge(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	ctx := context.Background()

	// A dead process reserved but never reached the gateway
	res, err := env.store.Create(ctx, "tt-ga", "buyer-1", 3, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(7), env.available(t, "tt-ga"))

	stale := time.Now().Add(-time.Hour)
	_, started, err := env.repo.Begin(ctx, &models.PurchaseSaga{
		CorrelationID:  "corr-crash-2",
		BuyerID:        "buyer-1",
		LineItems:      []models.LineItem{{TicketTypeID: "tt-ga", Quantity: 3}},
		ReservationIDs: []string{res.ID},
		Step:           models.StepCharging,
		Outcome:        models.OutcomePending,
		CreatedAt:      stale,
		UpdatedAt:      stale,
	})
	require.NoError(t, err)
	require.True(t, started)

	recovered, err := env.orchestrator.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	// No charge happened, so the holds come back
	record, err := env.repo.Get(ctx, "corr-crash-2")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompensated, record.Outcome)
	assert.Equal(t, int64(10), env.available(t, "tt-ga"))

	// The correlation id is no longer stuck in progress
	_, err = env.orchestrator.Purchase(ctx,
		purchaseReq("corr-crash-2", models.LineItem{TicketTypeID: "tt-ga", Quantity: 3}))
	assert.ErrorIs(t, err, status.ErrPaymentTimeout)
}

func TestOrchestrator_RecoverStalledIgnoresRecent(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	ctx := context.Background()

	now := time.Now()
	_, started, err := env.repo.Begin(ctx, &models.PurchaseSaga{
		CorrelationID: "corr-live",
		BuyerID:       "buyer-1",
		Step:          models.StepCharging,
		Outcome:       models.OutcomePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	require.NoError(t, err)
	require.True(t, started)

	recovered, err := env.orchestrator.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)

	record, err := env.repo.Get(ctx, "corr-live")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePending, record.Outcome)
}

func TestOrchestrator_CompensationFaultRecorded(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	env.gateway.declineReason = "insufficient funds"
	env.orchestrator.store = &failingReleaseStore{Store: env.store}

	result, err := env.orchestrator.Purchase(context.Background(),
		purchaseReq("corr-cf", models.LineItem{TicketTypeID: "tt-ga", Quantity: 2}))

	assert.ErrorIs(t, err, status.ErrPaymentDeclined)
	assert.Equal(t, models.OutcomeCompensated, result.Outcome)

	// The record says the holds are still out there
	assert.Contains(t, result.FailureReason, "release(s) failed")
	assert.Equal(t, int64(8), env.available(t, "tt-ga"))
}

func TestOrchestrator_GeneratesCorrelationID(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})

	req := purchaseReq("", models.LineItem{TicketTypeID: "tt-ga", Quantity: 1})
	result, err := env.orchestrator.Purchase(context.Background(), req)

	require.NoError(t, err)
	assert.NotEmpty(t, result.CorrelationID)
}

func TestOrchestrator_Validation(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})
	ctx := context.Background()

	_, err := env.orchestrator.Purchase(ctx, PurchaseRequest{
		LineItems: []models.LineItem{{TicketTypeID: "tt-ga", Quantity: 1}},
	})
	assert.Error(t, err)

	_, err = env.orchestrator.Purchase(ctx, PurchaseRequest{BuyerID: "buyer-1"})
	assert.Error(t, err)

	_, err = env.orchestrator.Purchase(ctx, purchaseReq("corr-v",
		models.LineItem{TicketTypeID: "tt-ga", Quantity: 0}))
	assert.Error(t, err)
}

func TestOrchestrator_UnknownTicketType(t *testing.T) {
	env := setupTestEnv(t, map[string]int64{"tt-ga": 10})

	result, err := env.orchestrator.Purchase(context.Background(),
		purchaseReq("corr-9", models.LineItem{TicketTypeID: "tt-ghost", Quantity: 1}))

	assert.ErrorIs(t, err, status.ErrTicketTypeNotFound)
	assert.Equal(t, models.OutcomeCompensated, result.Outcome)
}
