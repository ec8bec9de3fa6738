package purchase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louvredev/BetelChain/events"
	"github.com/louvredev/BetelChain/purchase"
	"github.com/louvredev/BetelChain/purchase/store"
	"github.com/louvredev/BetelChain/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const warehouse purchase.WarehouseID = "wh-pagar-alam"

// stepClock advances one millisecond per reading so ordering by time is
// never ambiguous.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, time.November, 30, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type storeFactory struct {
	name string
	new  func(t *testing.T) purchase.TxStore
}

var storeFactories = []storeFactory{
	{"memory", func(t *testing.T) purchase.TxStore { return store.NewTxMemory() }},
	{"sqlite", func(t *testing.T) purchase.TxStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

// eachStore runs test once per store implementation.
func eachStore(t *testing.T, test func(t *testing.T, s purchase.TxStore)) {
	for _, sf := range storeFactories {
		t.Run(sf.name, func(t *testing.T) {
			test(t, sf.new(t))
		})
	}
}

// fixedPrice prices every harvest at the same total.
func fixedPrice(total int64) purchase.PricingPolicy {
	return purchase.PricingFunc(func(context.Context, purchase.PricingInput) (decimal.Decimal, error) {
		return decimal.NewFromInt(total), nil
	})
}

type fixture struct {
	ctx    context.Context
	engine *purchase.Engine
	store  purchase.TxStore
	events *events.Recorder
	farmer *purchase.Farmer
}

func newFixture(t *testing.T, s purchase.TxStore, pricing purchase.PricingPolicy, opts ...purchase.Option) *fixture {
	t.Helper()
	rec := events.NewRecorder()
	opts = append([]purchase.Option{
		purchase.WithClock(newStepClock().Now),
		purchase.WithPublisher(rec),
	}, opts...)

	f := &fixture{
		ctx:    context.Background(),
		engine: purchase.NewEngine(s, pricing, opts...),
		store:  s,
		events: rec,
	}
	farmer, err := f.engine.RegisterFarmer(f.ctx, warehouse, purchase.FarmerInput{
		FullName: "Sutrisno",
		Phone:    "081234567890",
		Village:  "Dempo Utara",
	})
	require.NoError(t, err)
	f.farmer = farmer
	return f
}

func (f *fixture) register(t *testing.T) *purchase.Transaction {
	t.Helper()
	txn, err := f.engine.Register(f.ctx, warehouse, f.farmer.ID, decimal.NewFromInt(100000))
	require.NoError(t, err)
	return txn
}

func (f *fixture) recording(t *testing.T) *purchase.Transaction {
	t.Helper()
	txn := f.register(t)
	_, err := f.engine.StartRecording(f.ctx, warehouse, txn.ID)
	require.NoError(t, err)
	return txn
}

// recorded returns a transaction holding the three standard sacks, priced.
func (f *fixture) recorded(t *testing.T) *purchase.Transaction {
	t.Helper()
	txn := f.recording(t)
	_, err := f.engine.RecordObservations(f.ctx, warehouse, txn.ID, standardSacks())
	require.NoError(t, err)
	res, err := f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
	require.NoError(t, err)
	return &res.Transaction
}

func (f *fixture) pay(t *testing.T, id purchase.TransactionID, amount int64) *purchase.Payment {
	t.Helper()
	p, err := f.engine.SubmitPayment(f.ctx, warehouse, id, purchase.PaymentInput{
		Amount: decimal.NewFromInt(amount),
		Method: "transfer",
	})
	require.NoError(t, err)
	return p
}

func kg(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func conf(f float64) *float64 { return &f }

// standardSacks is 2×A + 1×B, 4.5 kg, mean confidence 0.8833.
func standardSacks() []purchase.Observation {
	return []purchase.Observation{
		{Grade: purchase.GradeA, WeightKg: kg("1.5"), Confidence: conf(0.95)},
		{Grade: purchase.GradeA, WeightKg: kg("2.0"), Confidence: conf(0.90)},
		{Grade: purchase.GradeB, WeightKg: kg("1.0"), Confidence: conf(0.80)},
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got),
		append([]any{"want %s, got %s", want, got}, msgAndArgs...)...)
}

func assertKind(t *testing.T, want purchase.ErrorKind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, purchase.KindOf(err), "error: %v", err)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestEngine_FullLifecycle(t *testing.T) {
	// GIVEN: A registered farmer and a pricing policy quoting 450000
	// WHEN: The transaction is recorded with 3 sacks and paid in two installments
	// THEN: Totals are frozen from the ledger and the second approval completes it
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		var priced purchase.PricingInput
		pricing := purchase.PricingFunc(func(_ context.Context, in purchase.PricingInput) (decimal.Decimal, error) {
			priced = in
			return decimal.NewFromInt(450000), nil
		})
		f := newFixture(t, s, pricing)
		ctx := f.ctx

		txn := f.register(t)
		assert.Equal(t, purchase.StatusCreated, txn.Status)
		assert.Equal(t, purchase.PaymentUnpaid, txn.PaymentStatus)
		assert.Nil(t, txn.TotalPrice)

		started, err := f.engine.StartRecording(ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.StatusRecording, started.Status)
		assert.NotNil(t, started.RecordingStartedAt)

		for _, o := range standardSacks() {
			_, err := f.engine.RecordObservation(ctx, warehouse, txn.ID, o)
			require.NoError(t, err)
		}

		res, err := f.engine.CompleteRecording(ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.StatusRecorded, res.Transaction.Status)
		require.NotNil(t, res.Transaction.TotalWeightKg)
		require.NotNil(t, res.Transaction.TotalPrice)
		assertDecimal(t, "4.5", *res.Transaction.TotalWeightKg)
		assertDecimal(t, "450000", *res.Transaction.TotalPrice)
		assert.NotNil(t, res.Transaction.RecordingCompletedAt)
		assert.Equal(t, 3, res.Harvest.TotalRecords)
		assert.Equal(t, purchase.GradeBreakdown{A: 2, B: 1, C: 0}, res.Harvest.GradeBreakdown)
		require.NotNil(t, res.Harvest.AverageConfidence)
		assert.InDelta(t, 0.8833, *res.Harvest.AverageConfidence, 0.0001)

		assertDecimal(t, "4.5", priced.TotalWeightKg)
		assert.Equal(t, purchase.GradeBreakdown{A: 2, B: 1}, priced.Breakdown)
		assertDecimal(t, "100000", priced.InitialPrice)

		// first installment
		p1 := f.pay(t, txn.ID, 200000)
		assert.Equal(t, purchase.PaymentPending, p1.Status)
		assert.Equal(t, purchase.PaymentInitial, p1.Type)

		got, err := f.engine.GetTransaction(ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.StatusPaying, got.Status)
		assert.Equal(t, purchase.PaymentUnpaid, got.PaymentStatus)

		d1, err := f.engine.DecidePayment(ctx, warehouse, p1.ID, purchase.Approve)
		require.NoError(t, err)
		assert.Equal(t, purchase.PaymentApproved, d1.Payment.Status)
		assert.NotNil(t, d1.Payment.DecidedAt)
		assert.Equal(t, purchase.PaymentPartial, d1.Transaction.PaymentStatus)
		assert.Equal(t, purchase.StatusPaying, d1.Transaction.Status)
		assertDecimal(t, "200000", d1.TotalApproved)

		// second installment
		p2 := f.pay(t, txn.ID, 250000)
		assert.Equal(t, purchase.PaymentRemaining, p2.Type)

		d2, err := f.engine.DecidePayment(ctx, warehouse, p2.ID, purchase.Approve)
		require.NoError(t, err)
		assert.Equal(t, purchase.PaymentCompleted, d2.Transaction.PaymentStatus)
		assert.Equal(t, purchase.StatusCompleted, d2.Transaction.Status)
		assert.NotNil(t, d2.Transaction.PaymentCompletedAt)
		assertDecimal(t, "450000", d2.TotalApproved)

		ps, err := f.engine.Summaries().PaymentSummary(ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assertDecimal(t, "450000", ps.TotalPaid())
		assertDecimal(t, "0", ps.RemainingNeeded)
		assert.Equal(t, 1.0, ps.PaymentPercentage)
		assert.Equal(t, purchase.PaymentCounts{Approved: 2}, ps.ByStatus)
		require.Len(t, ps.Payments, 2)
		assert.Equal(t, p2.ID, ps.Payments[0].ID, "newest first")
		assertDecimal(t, "200000", ps.InitialPaid)
		assertDecimal(t, "250000", ps.RemainingPaid)

		assert.Equal(t, []events.Type{
			events.TransactionRegistered,
			events.RecordingStarted,
			events.HarvestRecorded,
			events.HarvestRecorded,
			events.HarvestRecorded,
			events.RecordingCompleted,
			events.PaymentSubmitted,
			events.PaymentDecided,
			events.PaymentSubmitted,
			events.PaymentDecided,
			events.PaymentCompleted,
		}, f.events.Types())
	})
}

func TestEngine_PendingPaymentDoesNotCount(t *testing.T) {
	// GIVEN: A recorded transaction priced at 450000
	// WHEN: A 100000 payment is submitted but never decided
	// THEN: Nothing is approved and the transaction stays unpaid
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)
		f.pay(t, txn.ID, 100000)

		ps, err := f.engine.Summaries().PaymentSummary(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assertDecimal(t, "0", ps.TotalApproved)
		assertDecimal(t, "100000", ps.TotalPending)
		assertDecimal(t, "450000", ps.RemainingNeeded)
		assert.Equal(t, purchase.PaymentUnpaid, ps.PaymentStatus)
		assert.Equal(t, 0.0, ps.PaymentPercentage)
		assert.Equal(t, purchase.PaymentCounts{Pending: 1}, ps.ByStatus)
	})
}

func TestEngine_RejectedPaymentDoesNotCount(t *testing.T) {
	// GIVEN: A recorded transaction with one pending payment of the full price
	// WHEN: The payment is rejected
	// THEN: The transaction stays unpaid and a new payment is labeled initial
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)
		p := f.pay(t, txn.ID, 450000)

		d, err := f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Reject)
		require.NoError(t, err)
		assert.Equal(t, purchase.PaymentRejected, d.Payment.Status)
		assert.Equal(t, purchase.PaymentUnpaid, d.Transaction.PaymentStatus)
		assert.Equal(t, purchase.StatusPaying, d.Transaction.Status)
		assertDecimal(t, "0", d.TotalApproved)

		again := f.pay(t, txn.ID, 100000)
		assert.Equal(t, purchase.PaymentInitial, again.Type)
	})
}

func TestEngine_OverpaymentCompletes(t *testing.T) {
	// GIVEN: A transaction priced at 450000
	// WHEN: A single 500000 payment is approved
	// THEN: It is completed and nothing remains
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)
		p := f.pay(t, txn.ID, 500000)

		d, err := f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
		require.NoError(t, err)
		assert.Equal(t, purchase.PaymentCompleted, d.Transaction.PaymentStatus)

		ps, err := f.engine.Summaries().PaymentSummary(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assertDecimal(t, "0", ps.RemainingNeeded)
	})
}

// =============================================================================
// LIFECYCLE PRECONDITIONS
// =============================================================================

func TestEngine_CompleteRecording_EmptyHarvest(t *testing.T) {
	// GIVEN: A transaction in recording with no observations
	// WHEN: Completing the recording
	// THEN: EmptyHarvest, and the transaction is still recording
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recording(t)

		_, err := f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
		assertKind(t, purchase.KindEmptyHarvest, err)
		assert.True(t, errors.Is(err, purchase.ErrEmptyHarvest))

		got, err := f.engine.GetTransaction(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.StatusRecording, got.Status)
		assert.Nil(t, got.TotalPrice)
	})
}

func TestEngine_InvalidTransitions(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))

		t.Run("complete recording before start", func(t *testing.T) {
			txn := f.register(t)
			_, err := f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
			assertKind(t, purchase.KindInvalidTransition, err)
		})

		t.Run("start recording twice", func(t *testing.T) {
			txn := f.recording(t)
			_, err := f.engine.StartRecording(f.ctx, warehouse, txn.ID)
			assertKind(t, purchase.KindInvalidTransition, err)
		})

		t.Run("complete recording twice", func(t *testing.T) {
			txn := f.recorded(t)
			_, err := f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
			assertKind(t, purchase.KindInvalidTransition, err)
		})

		t.Run("observation before start", func(t *testing.T) {
			txn := f.register(t)
			_, err := f.engine.RecordObservation(f.ctx, warehouse, txn.ID, standardSacks()[0])
			assertKind(t, purchase.KindInvalidState, err)
		})

		t.Run("observation after completion", func(t *testing.T) {
			txn := f.recorded(t)
			_, err := f.engine.RecordObservation(f.ctx, warehouse, txn.ID, standardSacks()[0])
			assertKind(t, purchase.KindInvalidState, err)

			view, err := f.engine.Summaries().Harvest(f.ctx, warehouse, txn.ID)
			require.NoError(t, err)
			assert.Len(t, view.Records, 3, "ledger unchanged")
		})
	})
}

func TestEngine_SubmitPayment_BeforeRecordingCompletes(t *testing.T) {
	// GIVEN: Transactions that have no total price yet
	// WHEN: Submitting a payment
	// THEN: InvalidState and no payment is created
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))

		for _, txn := range []*purchase.Transaction{f.register(t), f.recording(t)} {
			_, err := f.engine.SubmitPayment(f.ctx, warehouse, txn.ID, purchase.PaymentInput{
				Amount: decimal.NewFromInt(100000),
				Method: "cash",
			})
			assertKind(t, purchase.KindInvalidState, err)

			payments, err := f.engine.Summaries().ListPayments(f.ctx, warehouse, txn.ID)
			require.NoError(t, err)
			assert.Empty(t, payments)
		}
	})
}

func TestEngine_SubmitPayment_InvalidAmount(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)

		for _, amount := range []string{"0", "-1", "-250000.50"} {
			_, err := f.engine.SubmitPayment(f.ctx, warehouse, txn.ID, purchase.PaymentInput{
				Amount: decimal.RequireFromString(amount),
				Method: "cash",
			})
			assertKind(t, purchase.KindInvalidAmount, err)
		}

		payments, err := f.engine.Summaries().ListPayments(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Empty(t, payments)

		got, err := f.engine.GetTransaction(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.StatusRecorded, got.Status, "rejected submissions do not start paying")
	})
}

func TestEngine_SubmitPayment_RequiresMethod(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)

		_, err := f.engine.SubmitPayment(f.ctx, warehouse, txn.ID, purchase.PaymentInput{
			Amount: decimal.NewFromInt(1000),
			Method: "  ",
		})
		assertKind(t, purchase.KindInvalidInput, err)
	})
}

func TestEngine_SubmitPayment_UnknownType(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)

		_, err := f.engine.SubmitPayment(f.ctx, warehouse, txn.ID, purchase.PaymentInput{
			Amount: decimal.NewFromInt(1000),
			Method: "cash",
			Type:   "deposit",
		})
		assertKind(t, purchase.KindInvalidInput, err)
	})
}

func TestEngine_DecidePayment_Twice(t *testing.T) {
	// GIVEN: A payment that was already approved
	// WHEN: Deciding it again, either way
	// THEN: InvalidTransition and the ledger is unchanged
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)
		p := f.pay(t, txn.ID, 100000)

		_, err := f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
		require.NoError(t, err)

		_, err = f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Reject)
		assertKind(t, purchase.KindInvalidTransition, err)
		_, err = f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
		assertKind(t, purchase.KindInvalidTransition, err)

		got, err := f.engine.GetPayment(f.ctx, warehouse, p.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.PaymentApproved, got.Status)

		ps, err := f.engine.Summaries().PaymentSummary(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assertDecimal(t, "100000", ps.TotalApproved, "approved once")
	})
}

func TestEngine_AfterCompletion(t *testing.T) {
	// GIVEN: A payment-complete transaction with a leftover pending payment
	// WHEN: Submitting another payment or deciding the leftover
	// THEN: Both fail with InvalidState
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)
		full := f.pay(t, txn.ID, 450000)
		leftover := f.pay(t, txn.ID, 50000)

		_, err := f.engine.DecidePayment(f.ctx, warehouse, full.ID, purchase.Approve)
		require.NoError(t, err)

		_, err = f.engine.SubmitPayment(f.ctx, warehouse, txn.ID, purchase.PaymentInput{
			Amount: decimal.NewFromInt(1000),
			Method: "cash",
		})
		assertKind(t, purchase.KindInvalidState, err)

		_, err = f.engine.DecidePayment(f.ctx, warehouse, leftover.ID, purchase.Approve)
		assertKind(t, purchase.KindInvalidState, err)

		got, err := f.engine.GetPayment(f.ctx, warehouse, leftover.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.PaymentPending, got.Status)
	})
}

func TestEngine_PaymentCompletedAtSetOnce(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)
		p := f.pay(t, txn.ID, 450000)

		d, err := f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
		require.NoError(t, err)
		require.NotNil(t, d.Transaction.PaymentCompletedAt)
		first := *d.Transaction.PaymentCompletedAt

		_, err = f.engine.Reconcile(f.ctx)
		require.NoError(t, err)

		got, err := f.engine.GetTransaction(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PaymentCompletedAt)
		assert.True(t, first.Equal(*got.PaymentCompletedAt))
	})
}

func TestEngine_ZeroPriceSettlesOnCompletion(t *testing.T) {
	// GIVEN: A pricing policy that values the harvest at zero
	// WHEN: Recording completes
	// THEN: The transaction is payment-complete immediately
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(0))
		txn := f.recorded(t)

		assert.Equal(t, purchase.StatusCompleted, txn.Status)
		assert.Equal(t, purchase.PaymentCompleted, txn.PaymentStatus)
		assert.NotNil(t, txn.PaymentCompletedAt)

		_, err := f.engine.SubmitPayment(f.ctx, warehouse, txn.ID, purchase.PaymentInput{
			Amount: decimal.NewFromInt(1),
			Method: "cash",
		})
		assertKind(t, purchase.KindInvalidState, err)
		assert.Contains(t, f.events.Types(), events.PaymentCompleted)
	})
}

// =============================================================================
// PRICING COLLABORATOR
// =============================================================================

func TestEngine_PricingFailure_LeavesRecording(t *testing.T) {
	// GIVEN: A pricing policy that fails on its first call
	// WHEN: Completing the recording twice
	// THEN: The first attempt is an UpstreamFailure with nothing frozen, the
	//       retry succeeds
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		var calls atomic.Int32
		pricing := purchase.PricingFunc(func(context.Context, purchase.PricingInput) (decimal.Decimal, error) {
			if calls.Add(1) == 1 {
				return decimal.Zero, errors.New("price board offline")
			}
			return decimal.NewFromInt(450000), nil
		})
		f := newFixture(t, s, pricing)
		txn := f.recording(t)
		_, err := f.engine.RecordObservations(f.ctx, warehouse, txn.ID, standardSacks())
		require.NoError(t, err)

		_, err = f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
		assertKind(t, purchase.KindUpstreamFailure, err)
		assert.True(t, purchase.IsRetryable(err))

		got, err := f.engine.GetTransaction(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.StatusRecording, got.Status)
		assert.Nil(t, got.TotalWeightKg)
		assert.Nil(t, got.TotalPrice)
		assert.Nil(t, got.RecordingCompletedAt)

		res, err := f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assertDecimal(t, "450000", *res.Transaction.TotalPrice)
	})
}

func TestEngine_PricingTimeout(t *testing.T) {
	// GIVEN: A pricing policy that never answers
	// WHEN: Completing the recording with a short pricing timeout
	// THEN: UpstreamFailure, and the transaction is still recording
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		release := make(chan struct{})
		defer close(release)
		pricing := purchase.PricingFunc(func(ctx context.Context, _ purchase.PricingInput) (decimal.Decimal, error) {
			<-release
			return decimal.NewFromInt(1), nil
		})
		f := newFixture(t, s, pricing, purchase.WithPricingTimeout(20*time.Millisecond))
		txn := f.recording(t)
		_, err := f.engine.RecordObservation(f.ctx, warehouse, txn.ID, standardSacks()[0])
		require.NoError(t, err)

		start := time.Now()
		_, err = f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
		assertKind(t, purchase.KindUpstreamFailure, err)
		assert.Less(t, time.Since(start), 2*time.Second)

		got, err := f.engine.GetTransaction(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.StatusRecording, got.Status)
	})
}

func TestEngine_PricingNegativeTotal(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(-5))
		txn := f.recording(t)
		_, err := f.engine.RecordObservation(f.ctx, warehouse, txn.ID, standardSacks()[0])
		require.NoError(t, err)

		_, err = f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
		assertKind(t, purchase.KindUpstreamFailure, err)
	})
}

func TestEngine_PerQuintalPricing(t *testing.T) {
	// GIVEN: 4.5 kg at an initial price of 100000 per quintal
	// THEN: Total price is 4500
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, purchase.PerQuintal{})
		txn := f.recorded(t)
		assertDecimal(t, "4500", *txn.TotalPrice)
	})
}

// =============================================================================
// HARVEST LEDGER
// =============================================================================

func TestEngine_HarvestOrderIndependent(t *testing.T) {
	// GIVEN: Two transactions receiving the same sacks in opposite orders
	// THEN: Their harvest summaries are identical
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		forward := f.recording(t)
		backward := f.recording(t)

		sacks := standardSacks()
		for i := range sacks {
			_, err := f.engine.RecordObservation(f.ctx, warehouse, forward.ID, sacks[i])
			require.NoError(t, err)
			_, err = f.engine.RecordObservation(f.ctx, warehouse, backward.ID, sacks[len(sacks)-1-i])
			require.NoError(t, err)
		}

		a, err := f.engine.Summaries().HarvestSummary(f.ctx, warehouse, forward.ID)
		require.NoError(t, err)
		b, err := f.engine.Summaries().HarvestSummary(f.ctx, warehouse, backward.ID)
		require.NoError(t, err)

		assert.Equal(t, a.TotalRecords, b.TotalRecords)
		assert.True(t, a.TotalWeightKg.Equal(b.TotalWeightKg))
		assert.Equal(t, a.GradeBreakdown, b.GradeBreakdown)
		assert.InDelta(t, *a.AverageConfidence, *b.AverageConfidence, 1e-9)
		assert.Equal(t, a.DominantGrade, b.DominantGrade)
	})
}

func TestEngine_RecordObservation_Normalizes(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recording(t)

		r, err := f.engine.RecordObservation(f.ctx, warehouse, txn.ID, purchase.Observation{
			Grade:     "b",
			SackColor: "Kuning",
		})
		require.NoError(t, err)
		assert.Equal(t, purchase.GradeB, r.Grade)
		assert.Equal(t, purchase.SackYellow, r.SackColor)
		assert.Equal(t, "camera_ml", r.DetectedBy)
		assert.Nil(t, r.WeightKg)
		assert.Nil(t, r.DetectionConfidence)
	})
}

func TestEngine_RecordObservation_Invalid(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recording(t)

		cases := map[string]purchase.Observation{
			"unknown grade":      {Grade: "D"},
			"negative weight":    {Grade: purchase.GradeA, WeightKg: kg("-0.5")},
			"confidence above 1": {Grade: purchase.GradeA, Confidence: conf(1.2)},
			"confidence below 0": {Grade: purchase.GradeA, Confidence: conf(-0.1)},
		}
		for name, o := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := f.engine.RecordObservation(f.ctx, warehouse, txn.ID, o)
				assertKind(t, purchase.KindInvalidInput, err)
			})
		}

		view, err := f.engine.Summaries().Harvest(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Empty(t, view.Records)
	})
}

func TestEngine_RecordObservations_BatchIsAtomic(t *testing.T) {
	// GIVEN: A batch whose last observation is invalid
	// WHEN: Recording it
	// THEN: InvalidInput and no record of the batch is appended
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recording(t)

		batch := append(standardSacks(), purchase.Observation{Grade: "Z"})
		_, err := f.engine.RecordObservations(f.ctx, warehouse, txn.ID, batch)
		assertKind(t, purchase.KindInvalidInput, err)

		view, err := f.engine.Summaries().Harvest(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Empty(t, view.Records)

		_, err = f.engine.RecordObservations(f.ctx, warehouse, txn.ID, nil)
		assertKind(t, purchase.KindInvalidInput, err)
	})
}

func TestEngine_WeightlessRecordsCountButWeighNothing(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, purchase.PerKilogram{})
		txn := f.recording(t)
		_, err := f.engine.RecordObservations(f.ctx, warehouse, txn.ID, []purchase.Observation{
			{Grade: purchase.GradeA, WeightKg: kg("2.25")},
			{Grade: purchase.GradeC},
		})
		require.NoError(t, err)

		res, err := f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Harvest.TotalRecords)
		assert.Equal(t, 1, res.Harvest.WeighedRecords)
		assertDecimal(t, "2.25", *res.Transaction.TotalWeightKg)
		assertDecimal(t, "225000", *res.Transaction.TotalPrice)
		assert.Nil(t, res.Harvest.AverageConfidence)
	})
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestEngine_Register_SequentialCodes(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))

		first := f.register(t)
		second := f.register(t)
		assert.Equal(t, "TXN202511300001", first.Code)
		assert.Equal(t, "TXN202511300002", second.Code)

		list, err := f.engine.ListTransactions(f.ctx, warehouse)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID, "newest first")
	})
}

func TestEngine_Register_InvalidInitialPrice(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		for _, price := range []int64{0, -100} {
			_, err := f.engine.Register(f.ctx, warehouse, f.farmer.ID, decimal.NewFromInt(price))
			assertKind(t, purchase.KindInvalidAmount, err)
		}
	})
}

func TestEngine_Register_UnknownFarmer(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		_, err := f.engine.Register(f.ctx, warehouse, "nobody", decimal.NewFromInt(100))
		assertKind(t, purchase.KindNotFound, err)
	})
}

func TestEngine_InactiveFarmer(t *testing.T) {
	// GIVEN: A farmer with an open transaction
	// WHEN: The farmer is deactivated
	// THEN: New transactions are refused, the open one proceeds
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		open := f.recording(t)

		deactivated, err := f.engine.DeactivateFarmer(f.ctx, warehouse, f.farmer.ID)
		require.NoError(t, err)
		assert.False(t, deactivated.IsActive)
		assert.NotNil(t, deactivated.UpdatedAt)

		_, err = f.engine.Register(f.ctx, warehouse, f.farmer.ID, decimal.NewFromInt(100000))
		assertKind(t, purchase.KindInvalidState, err)

		_, err = f.engine.RecordObservations(f.ctx, warehouse, open.ID, standardSacks())
		require.NoError(t, err)
		_, err = f.engine.CompleteRecording(f.ctx, warehouse, open.ID)
		require.NoError(t, err)
	})
}

func TestEngine_RegisterFarmer(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))

		assert.Regexp(t, `^F20251130[0-9A-F]{6}$`, f.farmer.Code)
		assert.True(t, f.farmer.IsActive)
		assert.Equal(t, warehouse, f.farmer.WarehouseID)

		_, err := f.engine.RegisterFarmer(f.ctx, warehouse, purchase.FarmerInput{FullName: "  "})
		assertKind(t, purchase.KindInvalidInput, err)

		_, err = f.engine.RegisterFarmer(f.ctx, "", purchase.FarmerInput{FullName: "Wati"})
		assertKind(t, purchase.KindInvalidInput, err)

		farmers, err := f.engine.ListFarmers(f.ctx, warehouse)
		require.NoError(t, err)
		require.Len(t, farmers, 1)
		assert.Equal(t, "Sutrisno", farmers[0].FullName)
	})
}

// =============================================================================
// WAREHOUSE SCOPE
// =============================================================================

func TestEngine_WarehouseIsolation(t *testing.T) {
	// GIVEN: A transaction and payment owned by one warehouse
	// WHEN: Another warehouse reads or commands them
	// THEN: Every call reports NotFound and nothing changes
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		created := f.register(t)
		txn := f.recorded(t)
		p := f.pay(t, txn.ID, 100000)

		const other purchase.WarehouseID = "wh-lahat"
		sum := f.engine.Summaries()
		ctx := f.ctx

		_, err := f.engine.GetTransaction(ctx, other, txn.ID)
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.StartRecording(ctx, other, created.ID)
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.RecordObservation(ctx, other, created.ID, standardSacks()[0])
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.CompleteRecording(ctx, other, txn.ID)
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.SubmitPayment(ctx, other, txn.ID, purchase.PaymentInput{Amount: decimal.NewFromInt(1), Method: "cash"})
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.DecidePayment(ctx, other, p.ID, purchase.Approve)
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.GetPayment(ctx, other, p.ID)
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.GetFarmer(ctx, other, f.farmer.ID)
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.Register(ctx, other, f.farmer.ID, decimal.NewFromInt(100))
		assertKind(t, purchase.KindNotFound, err)
		_, err = sum.TransactionSummary(ctx, other, txn.ID)
		assertKind(t, purchase.KindNotFound, err)
		_, err = sum.PaymentSummary(ctx, other, txn.ID)
		assertKind(t, purchase.KindNotFound, err)

		list, err := f.engine.ListTransactions(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, list)

		got, err := f.engine.GetPayment(ctx, warehouse, p.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.PaymentPending, got.Status)
	})
}

func TestEngine_UnknownIDs(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))

		_, err := f.engine.GetTransaction(f.ctx, warehouse, "missing")
		assertKind(t, purchase.KindNotFound, err)
		assert.True(t, errors.Is(err, purchase.ErrNotFound))
		_, err = f.engine.StartRecording(f.ctx, warehouse, "missing")
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.DecidePayment(f.ctx, warehouse, "missing", purchase.Approve)
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.GetPayment(f.ctx, warehouse, "missing")
		assertKind(t, purchase.KindNotFound, err)
		_, err = f.engine.DeactivateFarmer(f.ctx, warehouse, "missing")
		assertKind(t, purchase.KindNotFound, err)
	})
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestEngine_ConcurrentObservations(t *testing.T) {
	// GIVEN: One transaction in recording
	// WHEN: 40 observations of 0.5 kg arrive concurrently
	// THEN: Every one is in the ledger and the total is exact
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, purchase.PerKilogram{})
		txn := f.recording(t)

		const n = 40
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.engine.RecordObservation(f.ctx, warehouse, txn.ID, purchase.Observation{
					Grade:    purchase.Grades[i%3],
					WeightKg: kg("0.5"),
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		res, err := f.engine.CompleteRecording(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, n, res.Harvest.TotalRecords)
		assertDecimal(t, "20", *res.Transaction.TotalWeightKg)
	})
}

func TestEngine_ConcurrentApprovals(t *testing.T) {
	// GIVEN: A 450000 transaction with 12 pending payments of 45000
	// WHEN: All 12 are approved concurrently
	// THEN: Exactly 10 succeed, completion happens once, the rest are refused
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)

		var payments []*purchase.Payment
		for i := 0; i < 12; i++ {
			payments = append(payments, f.pay(t, txn.ID, 45000))
		}

		var wg sync.WaitGroup
		var ok, refused atomic.Int32
		for _, p := range payments {
			wg.Add(1)
			go func(id purchase.PaymentID) {
				defer wg.Done()
				_, err := f.engine.DecidePayment(f.ctx, warehouse, id, purchase.Approve)
				switch {
				case err == nil:
					ok.Add(1)
				case purchase.KindOf(err) == purchase.KindInvalidState:
					refused.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(p.ID)
		}
		wg.Wait()

		assert.EqualValues(t, 10, ok.Load())
		assert.EqualValues(t, 2, refused.Load())

		ps, err := f.engine.Summaries().PaymentSummary(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assertDecimal(t, "450000", ps.TotalApproved)
		assert.Equal(t, purchase.PaymentCompleted, ps.PaymentStatus)
		assert.Equal(t, purchase.PaymentCounts{Approved: 10, Pending: 2}, ps.ByStatus)

		completions := 0
		for _, typ := range f.events.Types() {
			if typ == events.PaymentCompleted {
				completions++
			}
		}
		assert.Equal(t, 1, completions)
	})
}

func TestEngine_ConcurrentRegistration_UniqueCodes(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))

		const n = 20
		var wg sync.WaitGroup
		codes := make(chan string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				txn, err := f.engine.Register(f.ctx, warehouse, f.farmer.ID, decimal.NewFromInt(100000))
				if assert.NoError(t, err) {
					codes <- txn.Code
				}
			}()
		}
		wg.Wait()
		close(codes)

		seen := make(map[string]bool)
		for c := range codes {
			assert.False(t, seen[c], "duplicate code %s", c)
			seen[c] = true
		}
		assert.Len(t, seen, n)
	})
}

func TestEngine_SummariesDuringCommands(t *testing.T) {
	// GIVEN: Approvals running while summaries are read
	// THEN: Every summary is internally consistent
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)
		var payments []*purchase.Payment
		for i := 0; i < 5; i++ {
			payments = append(payments, f.pay(t, txn.ID, 90000))
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, p := range payments {
				_, err := f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
				assert.NoError(t, err)
			}
		}()

		sum := f.engine.Summaries()
		for i := 0; i < 20; i++ {
			ps, err := sum.PaymentSummary(f.ctx, warehouse, txn.ID)
			require.NoError(t, err)
			approved := decimal.NewFromInt(int64(ps.ByStatus.Approved) * 90000)
			assert.True(t, approved.Equal(ps.TotalApproved))
			assert.True(t, ps.TotalPrice.Sub(ps.TotalApproved).Equal(ps.RemainingNeeded))
		}
		wg.Wait()
	})
}

// =============================================================================
// SUMMARIES
// =============================================================================

func TestSummary_TransactionSummary(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		txn := f.recorded(t)
		p := f.pay(t, txn.ID, 200000)
		_, err := f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
		require.NoError(t, err)

		ts, err := f.engine.Summaries().TransactionSummary(f.ctx, warehouse, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, txn.Code, ts.Transaction.Code)
		assert.Equal(t, f.farmer.Code, ts.FarmerCode)
		assert.Equal(t, "Sutrisno", ts.FarmerName)
		assert.Equal(t, 3, ts.Harvest.TotalRecords)
		require.NotNil(t, ts.Harvest.DominantGrade)
		assert.Equal(t, purchase.GradeA, *ts.Harvest.DominantGrade)
		assert.Equal(t, purchase.PaymentPartial, ts.Payments.PaymentStatus)
		assertDecimal(t, "250000", ts.Payments.RemainingNeeded)
		assert.InDelta(t, 0.4444, ts.Payments.PaymentPercentage, 0.00001)
	})
}

func TestSummary_WarehouseSummary(t *testing.T) {
	// GIVEN: One completed, one partially paid and one fresh transaction
	// THEN: The dashboard totals add up across the warehouse
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))

		done := f.recorded(t)
		p := f.pay(t, done.ID, 450000)
		_, err := f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
		require.NoError(t, err)

		partial := f.recorded(t)
		p = f.pay(t, partial.ID, 150000)
		_, err = f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
		require.NoError(t, err)

		f.register(t)

		// another warehouse's activity is invisible
		_, err = f.engine.RegisterFarmer(f.ctx, "wh-lahat", purchase.FarmerInput{FullName: "Rudi"})
		require.NoError(t, err)

		ws, err := f.engine.Summaries().WarehouseSummary(f.ctx, warehouse)
		require.NoError(t, err)
		assert.Equal(t, 1, ws.FarmersCount)
		assert.Equal(t, 3, ws.TransactionsCount)
		assert.Equal(t, 1, ws.CompletedCount)
		assert.Equal(t, purchase.GradeBreakdown{A: 4, B: 2}, ws.GradesBreakdown)
		assert.Equal(t, 6, ws.TotalSacks)
		require.NotNil(t, ws.DominantGrade)
		assert.Equal(t, purchase.GradeA, *ws.DominantGrade)
		assert.InDelta(t, 0.6667, ws.DominantGradeRatio, 0.0001)
		assertDecimal(t, "9", ws.TotalWeightKg)
		assertDecimal(t, "600000", ws.TotalSpent)
		assertDecimal(t, "300000", ws.Outstanding)
	})
}

func TestSummary_EmptyWarehouse(t *testing.T) {
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		sum := purchase.NewSummaryService(s)
		ws, err := sum.WarehouseSummary(context.Background(), "wh-empty")
		require.NoError(t, err)
		assert.Zero(t, ws.TransactionsCount)
		assert.Nil(t, ws.DominantGrade)
		assert.Zero(t, ws.DominantGradeRatio)
		assert.True(t, ws.TotalSpent.IsZero())
	})
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestEngine_Reconcile_RepairsDrift(t *testing.T) {
	// GIVEN: A transaction whose stored payment status drifted from its ledger
	// WHEN: Reconcile runs twice
	// THEN: The first run repairs it, the second finds nothing to do
	eachStore(t, func(t *testing.T, s purchase.TxStore) {
		f := newFixture(t, s, fixedPrice(450000))
		healthy := f.recorded(t)
		f.pay(t, healthy.ID, 1000)

		drifted := f.recorded(t)
		p := f.pay(t, drifted.ID, 450000)
		d, err := f.engine.DecidePayment(f.ctx, warehouse, p.ID, purchase.Approve)
		require.NoError(t, err)

		// simulate a write that never got its status update
		broken := d.Transaction
		broken.Status = purchase.StatusPaying
		broken.PaymentStatus = purchase.PaymentUnpaid
		require.NoError(t, s.UpdateTransaction(f.ctx, broken))

		report, err := f.engine.Reconcile(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Checked)
		assert.Equal(t, []purchase.TransactionID{drifted.ID}, report.Repaired)
		assert.Empty(t, report.Failed)

		got, err := f.engine.GetTransaction(f.ctx, warehouse, drifted.ID)
		require.NoError(t, err)
		assert.Equal(t, purchase.StatusCompleted, got.Status)
		assert.Equal(t, purchase.PaymentCompleted, got.PaymentStatus)
		assert.NotNil(t, got.PaymentCompletedAt)

		again, err := f.engine.Reconcile(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Checked)
		assert.Empty(t, again.Repaired)
	})
}
