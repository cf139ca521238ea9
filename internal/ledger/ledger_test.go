package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arcadepay/internal/ledger"
	"arcadepay/internal/model"
	"arcadepay/internal/repository/memstore"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T, store ledger.Store) *ledger.Ledger {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return ledger.New(store, ledger.Options{
		EventTopic:     "ledger-events",
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		Logger:         logger,
	})
}

func assertBalanceMatchesHistory(t *testing.T, l *ledger.Ledger, s ledger.Store, cardID int64) {
	t.Helper()
	ctx := context.Background()
	card, err := s.GetCard(ctx, cardID)
	require.NoError(t, err)
	txns, err := l.History(ctx, cardID, ledger.MaxHistoryLimit)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.Amount)
	}
	assert.True(t, card.Balance.Equal(sum), "balance %s != ledger sum %s", card.Balance, sum)
	assert.False(t, card.Balance.IsNegative())
}

func TestCreateCard_InitialBalanceIsSyntheticRecharge(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()

	card, err := l.CreateCard(ctx, " Ann ", " 1234 ", d("50"))
	require.NoError(t, err)
	assert.Equal(t, "Ann", card.Holder)
	assert.Equal(t, "1234", card.Number)
	assert.True(t, card.Balance.Equal(d("50")))

	txns, err := l.History(ctx, card.ID, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionKindRecharge, txns[0].Kind)
	assert.True(t, txns[0].Amount.Equal(d("50")))
	require.NotNil(t, txns[0].Note)
	assert.Equal(t, ledger.InitialBalanceNote, *txns[0].Note)
	assert.Nil(t, txns[0].ItemID)
	assertBalanceMatchesHistory(t, l, s, card.ID)
}

func TestCreateCard_ZeroBalanceHasNoTransactions(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)

	card, err := l.CreateCard(context.Background(), "Bob", "1", decimal.Zero)
	require.NoError(t, err)
	txns, err := l.History(context.Background(), card.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestCreateCard_Validation(t *testing.T) {
	l := newLedger(t, memstore.New())
	ctx := context.Background()

	cases := []struct {
		name    string
		holder  string
		number  string
		balance decimal.Decimal
	}{
		{"empty holder", "  ", "1", decimal.Zero},
		{"empty number", "a", "", decimal.Zero},
		{"negative balance", "a", "1", d("-1")},
		{"too precise", "a", "1", d("1.001")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.CreateCard(ctx, tc.holder, tc.number, tc.balance)
			assert.ErrorIs(t, err, ledger.ErrInvalidInput)
		})
	}
}

func TestCreateCard_DuplicateNumber(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()

	_, err := l.CreateCard(ctx, "a", "0000-0001", d("5"))
	require.NoError(t, err)
	_, err = l.CreateCard(ctx, "b", "0000-0001", d("7"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateCardNumber)

	cards, err := s.ListCards(ctx)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
	// the failed create must not leave an event behind
	assert.Len(t, s.Messages(), 1)
}

func TestRecharge_RoundTripThroughHistory(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()

	card, err := l.CreateCard(ctx, "a", "1", decimal.Zero)
	require.NoError(t, err)

	balance, err := l.Recharge(ctx, card.ID, d("12.50"), "cash")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("12.5")))

	txns, err := l.History(ctx, card.ID, 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionKindRecharge, txns[0].Kind)
	assert.True(t, txns[0].Amount.Equal(d("12.5")))
	assert.True(t, txns[0].BalanceBefore.IsZero())
	assert.True(t, txns[0].BalanceAfter.Equal(d("12.5")))
	require.NotNil(t, txns[0].Note)
	assert.Equal(t, "cash", *txns[0].Note)
}

func TestRecharge_Errors(t *testing.T) {
	l := newLedger(t, memstore.New())
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", decimal.Zero)
	require.NoError(t, err)

	for _, amount := range []string{"0", "-5", "0.001"} {
		_, err := l.Recharge(ctx, card.ID, d(amount), "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, amount)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput, amount)
	}

	_, err = l.Recharge(ctx, card.ID+100, d("1"), "")
	assert.ErrorIs(t, err, ledger.ErrCardNotFound)
}

func TestRecharge_BalanceCannotExceedColumnLimit(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", d("999999999999999999.98"))
	require.NoError(t, err)

	balance, err := l.Recharge(ctx, card.ID, d("0.01"), "")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("999999999999999999.99")))

	_, err = l.Recharge(ctx, card.ID, d("0.01"), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	got, err := s.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("999999999999999999.99")))
	txns, err := l.History(ctx, card.ID, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
	assertBalanceMatchesHistory(t, l, s, card.ID)
}

func TestDebit(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", d("10"))
	require.NoError(t, err)

	balance, err := l.Debit(ctx, card.ID, d("2.5"), "pacman")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("7.5")))

	txns, err := l.History(ctx, card.ID, 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, model.TransactionKindDebit, txns[0].Kind)
	assert.True(t, txns[0].Amount.Equal(d("-2.5")))
	require.NotNil(t, txns[0].ItemID)
	assert.Equal(t, "pacman", *txns[0].ItemID)
	assert.Nil(t, txns[0].Note)
	assertBalanceMatchesHistory(t, l, s, card.ID)
}

func TestDebit_InsufficientBalanceLeavesCardUntouched(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", d("3"))
	require.NoError(t, err)

	_, err = l.Debit(ctx, card.ID, d("3.01"), "racing")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	got, err := s.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("3")))
	txns, err := l.History(ctx, card.ID, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	// exact balance is allowed
	balance, err := l.Debit(ctx, card.ID, d("3"), "racing")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestDebit_RequiresTag(t *testing.T) {
	l := newLedger(t, memstore.New())
	_, err := l.Debit(context.Background(), 1, d("1"), " ")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestDebit_ConcurrentRaceOnlyOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		s := memstore.New()
		l := newLedger(t, s)
		ctx := context.Background()
		card, err := l.CreateCard(ctx, "a", "1", d("10"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j := range errs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, errs[j] = l.Debit(ctx, card.ID, d("10"), "tetris")
			}(j)
		}
		wg.Wait()

		succeeded, insufficient := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrInsufficientBalance):
				insufficient++
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, insufficient)

		got, err := s.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.IsZero())
		assertBalanceMatchesHistory(t, l, s, card.ID)
	}
}

func TestConcurrentMixedOperationsKeepInvariant(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", d("5"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.Recharge(ctx, card.ID, d("1.25"), "")
		}()
		go func() {
			defer wg.Done()
			_, _ = l.Debit(ctx, card.ID, d("2"), "space")
		}()
	}
	wg.Wait()

	assertBalanceMatchesHistory(t, l, s, card.ID)
}

// failingStore makes AppendTransaction fail after the balance write was issued.
type failingStore struct {
	ledger.Store
	err error
}

func (f *failingStore) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return f.Store.InTx(ctx, func(tx ledger.Tx) error {
		return fn(&failingTx{Tx: tx, err: f.err})
	})
}

type failingTx struct {
	ledger.Tx
	err error
}

func (f *failingTx) AppendTransaction(context.Context, *model.CardTransaction) error {
	return f.err
}

func TestAtomicityUnderAppendFailure(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	card, err := newLedger(t, s).CreateCard(ctx, "a", "1", d("10"))
	require.NoError(t, err)

	l := newLedger(t, &failingStore{Store: s, err: errors.New("disk full")})

	_, err = l.Recharge(ctx, card.ID, d("5"), "")
	assert.ErrorIs(t, err, ledger.ErrStoreFailure)
	_, err = l.Debit(ctx, card.ID, d("5"), "shoot")
	assert.ErrorIs(t, err, ledger.ErrStoreFailure)

	got, err := s.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(d("10")))
	txns, err := s.ListTransactions(ctx, card.ID, 10)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
	assert.Len(t, s.Messages(), 1)
}

// conflictStore fails the first n commits with ErrConflict.
type conflictStore struct {
	ledger.Store
	remaining atomic.Int32
	calls     atomic.Int32
}

func (c *conflictStore) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	c.calls.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return ledger.ErrConflict
	}
	return c.Store.InTx(ctx, fn)
}

func TestConflictsAreRetried(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	card, err := newLedger(t, s).CreateCard(ctx, "a", "1", d("10"))
	require.NoError(t, err)

	cs := &conflictStore{Store: s}
	cs.remaining.Store(2)
	balance, err := newLedger(t, cs).Recharge(ctx, card.ID, d("1"), "")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("11")))
	assert.EqualValues(t, 3, cs.calls.Load())
}

func TestConflictsExhaustRetries(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	card, err := newLedger(t, s).CreateCard(ctx, "a", "1", d("10"))
	require.NoError(t, err)

	cs := &conflictStore{Store: s}
	cs.remaining.Store(1000)
	logger, _ := test.NewNullLogger()
	l := ledger.New(cs, ledger.Options{MaxRetries: 2, RetryBaseDelay: time.Millisecond, Logger: logger})

	_, err = l.Debit(ctx, card.ID, d("1"), "pacman")
	assert.ErrorIs(t, err, ledger.ErrStoreFailure)
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.EqualValues(t, 3, cs.calls.Load())
}

func TestHistory(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", decimal.Zero)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.Recharge(ctx, card.ID, d("1"), "")
		require.NoError(t, err)
	}

	txns, err := l.History(ctx, card.ID, 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Greater(t, txns[0].ID, txns[1].ID)

	_, err = l.History(ctx, card.ID+1, 0)
	assert.ErrorIs(t, err, ledger.ErrCardNotFound)
}

func TestDeleteCard_Cascades(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", d("20"))
	require.NoError(t, err)
	_, err = l.Debit(ctx, card.ID, d("4"), "donkey")
	require.NoError(t, err)

	require.NoError(t, l.DeleteCard(ctx, card.ID))

	_, err = s.GetCard(ctx, card.ID)
	assert.ErrorIs(t, err, ledger.ErrCardNotFound)
	txns, err := s.ListTransactions(ctx, card.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, txns)

	assert.ErrorIs(t, l.DeleteCard(ctx, card.ID), ledger.ErrCardNotFound)

	// the number is free again
	_, err = l.CreateCard(ctx, "b", "1", decimal.Zero)
	require.NoError(t, err)
}

func TestEventsAreEnqueuedWithTheWrite(t *testing.T) {
	s := memstore.New()
	l := newLedger(t, s)
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", d("5"))
	require.NoError(t, err)
	_, err = l.Recharge(ctx, card.ID, d("1"), "promo")
	require.NoError(t, err)
	_, err = l.Debit(ctx, card.ID, d("2"), "pacman")
	require.NoError(t, err)
	require.NoError(t, l.DeleteCard(ctx, card.ID))

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	want := []string{model.EventCardCreated, model.EventCardRecharged, model.EventCardDebited, model.EventCardDeleted}
	for i, msg := range msgs {
		var ev model.LedgerEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, want[i], ev.Type)
		assert.Equal(t, card.ID, ev.CardID)
		assert.NotEmpty(t, ev.EventID)
		assert.Equal(t, "ledger-events", msg.Topic)
		assert.Equal(t, model.OutboxStatusPending, msg.Status)
	}

	var debited model.LedgerEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[2].Payload), &debited))
	assert.Equal(t, "pacman", debited.Tag)
	assert.True(t, debited.Amount.Equal(d("-2")))
	assert.True(t, debited.Balance.Equal(d("4")))
}

func TestCanceledContextWhileWaitingForLock(t *testing.T) {
	s := memstore.New()
	locker := ledger.NewLocalLocker()
	logger, _ := test.NewNullLogger()
	l := ledger.New(s, ledger.Options{Locker: locker, Logger: logger})
	ctx := context.Background()
	card, err := l.CreateCard(ctx, "a", "1", d("5"))
	require.NoError(t, err)

	unlock, err := locker.Lock(ctx, card.ID)
	require.NoError(t, err)
	defer unlock()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Debit(waitCtx, card.ID, d("1"), "pacman")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, _ := s.GetCard(ctx, card.ID)
	assert.True(t, got.Balance.Equal(d("5")))
}

type recordingMetrics struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingMetrics) ObserveLedgerOp(op, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op+":"+result)
}

func TestMetricsAndFailureLogging(t *testing.T) {
	s := memstore.New()
	m := &recordingMetrics{}
	logger, hook := test.NewNullLogger()
	l := ledger.New(&failingStore{Store: s, err: errors.New("io")}, ledger.Options{Metrics: m, Logger: logger})
	ctx := context.Background()

	card, err := l.CreateCard(ctx, "a", "1", decimal.Zero)
	require.NoError(t, err)
	_, err = l.Debit(ctx, card.ID, d("1"), "x")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	_, err = l.Recharge(ctx, card.ID, d("1"), "")
	assert.ErrorIs(t, err, ledger.ErrStoreFailure)

	assert.Equal(t, []string{"create_card:ok", "debit:insufficient_balance", "recharge:store_failure"}, m.ops)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
