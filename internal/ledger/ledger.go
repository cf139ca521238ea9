package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"arcadepay/internal/model"
	"arcadepay/pkg/idgen"

	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultHistoryLimit = 200
	MaxHistoryLimit     = 500

	InitialBalanceNote = "initial balance"
)

// Metrics receives one observation per ledger operation.
type Metrics interface {
	ObserveLedgerOp(op, result string, elapsed time.Duration)
}

type Options struct {
	// Locker defaults to an in-process LocalLocker.
	Locker Locker

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// EventTopic is the outbox topic for ledger events. Empty disables events.
	EventTopic string

	Metrics Metrics
	Logger  logrus.FieldLogger
}

// Ledger owns every balance mutation.
//
// A write to a card goes through three layers:
//
//   1. Locker: per-card lock (in process or Redis). Writers of one card
//      queue here; writers of different cards never wait on each other.
//   2. Tx.LockCard: SELECT ... FOR UPDATE inside the store transaction, so
//      the balance read is the one the update is computed from.
//   3. Tx.ApplyDelta: UPDATE guarded by version and balance >= 0.
//      If the first two layers are bypassed (lock lease expired, a second
//      deployment without Redis), this is still a compare-and-swap: the
//      loser gets ErrConflict and the whole transaction is retried.
//
// The card row, its transaction row and the outbox row commit together or
// not at all, which keeps balance == sum(transaction amounts) per card.
type Ledger struct {
	store   Store
	locker  Locker
	retry   retrypolicy.RetryPolicy[any]
	topic   string
	metrics Metrics
	log     logrus.FieldLogger
}

func New(store Store, opts Options) *Ledger {
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryMaxDelay == 0 {
		opts.RetryMaxDelay = defaultRetryMaxDelay
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Ledger{
		store:   store,
		locker:  opts.Locker,
		retry:   newConflictRetryPolicy(opts.MaxRetries, opts.RetryBaseDelay, opts.RetryMaxDelay),
		topic:   opts.EventTopic,
		metrics: opts.Metrics,
		log:     opts.Logger.WithField("component", "ledger"),
	}
}

// CreateCard registers a card. A positive initial balance is recorded as a
// synthetic RECHARGE so the transaction log alone reproduces the balance.
func (l *Ledger) CreateCard(ctx context.Context, holder, number string, initialBalance decimal.Decimal) (card *model.Card, err error) {
	defer l.observe("create_card", time.Now(), &err)

	holder = strings.TrimSpace(holder)
	number = strings.TrimSpace(number)
	if holder == "" {
		return nil, fmt.Errorf("%w: holder is required", ErrInvalidInput)
	}
	if number == "" {
		return nil, fmt.Errorf("%w: number is required", ErrInvalidInput)
	}
	if initialBalance.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance must not be negative", ErrInvalidInput)
	}
	if !initialBalance.IsZero() {
		if err := validateAmount(initialBalance); err != nil {
			return nil, err
		}
	}
	initialBalance = initialBalance.Round(2)

	err = l.inTx(ctx, "create_card", func(tx Tx) error {
		c := &model.Card{Holder: holder, Number: number, Balance: initialBalance}
		if err := tx.InsertCard(ctx, c); err != nil {
			return err
		}
		var txnNo string
		if initialBalance.IsPositive() {
			note := InitialBalanceNote
			txn := &model.CardTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				CardID:        c.ID,
				Kind:          model.TransactionKindRecharge,
				Amount:        initialBalance,
				BalanceBefore: decimal.Zero,
				BalanceAfter:  initialBalance,
				Note:          &note,
			}
			if err := tx.AppendTransaction(ctx, txn); err != nil {
				return err
			}
			txnNo = txn.TransactionNo
		}
		if err := l.enqueue(ctx, tx, model.EventCardCreated, c.ID, txnNo, initialBalance, initialBalance, ""); err != nil {
			return err
		}
		card = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"card_id": card.ID,
		"balance": card.Balance.StringFixed(2),
	}).Info("card created")
	return card, nil
}

// Recharge adds amount to the card balance and returns the new balance.
func (l *Ledger) Recharge(ctx context.Context, cardID int64, amount decimal.Decimal, note string) (balance decimal.Decimal, err error) {
	defer l.observe("recharge", time.Now(), &err)

	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	amount = amount.Round(2)

	var notePtr *string
	if note = strings.TrimSpace(note); note != "" {
		notePtr = &note
	}

	err = l.withCardLock(ctx, cardID, func() error {
		return l.inTx(ctx, "recharge", func(tx Tx) error {
			card, err := tx.LockCard(ctx, cardID)
			if err != nil {
				return err
			}
			after := card.Balance.Add(amount)
			if err := checkBalanceLimit(after); err != nil {
				return err
			}
			if err := tx.ApplyDelta(ctx, card.ID, card.Version, amount); err != nil {
				return err
			}
			txn := &model.CardTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				CardID:        card.ID,
				Kind:          model.TransactionKindRecharge,
				Amount:        amount,
				BalanceBefore: card.Balance,
				BalanceAfter:  after,
				Note:          notePtr,
			}
			if err := tx.AppendTransaction(ctx, txn); err != nil {
				return err
			}
			if err := l.enqueue(ctx, tx, model.EventCardRecharged, card.ID, txn.TransactionNo, amount, after, note); err != nil {
				return err
			}
			balance = after
			return nil
		})
	})
	if err != nil {
		return decimal.Zero, err
	}

	l.log.WithFields(logrus.Fields{
		"card_id": cardID,
		"amount":  amount.StringFixed(2),
		"balance": balance.StringFixed(2),
	}).Info("card recharged")
	return balance, nil
}

// Debit charges amount for the item identified by tag. It fails with
// ErrInsufficientBalance, leaving the card untouched, when the balance is short.
func (l *Ledger) Debit(ctx context.Context, cardID int64, amount decimal.Decimal, tag string) (balance decimal.Decimal, err error) {
	defer l.observe("debit", time.Now(), &err)

	tag = strings.TrimSpace(tag)
	if tag == "" {
		return decimal.Zero, fmt.Errorf("%w: tag is required", ErrInvalidInput)
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	amount = amount.Round(2)

	err = l.withCardLock(ctx, cardID, func() error {
		return l.inTx(ctx, "debit", func(tx Tx) error {
			card, err := tx.LockCard(ctx, cardID)
			if err != nil {
				return err
			}
			if card.Balance.LessThan(amount) {
				return ErrInsufficientBalance
			}
			delta := amount.Neg()
			after := card.Balance.Add(delta)
			if err := tx.ApplyDelta(ctx, card.ID, card.Version, delta); err != nil {
				return err
			}
			itemID := tag
			txn := &model.CardTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				CardID:        card.ID,
				Kind:          model.TransactionKindDebit,
				Amount:        delta,
				BalanceBefore: card.Balance,
				BalanceAfter:  after,
				ItemID:        &itemID,
			}
			if err := tx.AppendTransaction(ctx, txn); err != nil {
				return err
			}
			if err := l.enqueue(ctx, tx, model.EventCardDebited, card.ID, txn.TransactionNo, delta, after, tag); err != nil {
				return err
			}
			balance = after
			return nil
		})
	})
	if err != nil {
		return decimal.Zero, err
	}

	l.log.WithFields(logrus.Fields{
		"card_id": cardID,
		"amount":  amount.StringFixed(2),
		"item":    tag,
		"balance": balance.StringFixed(2),
	}).Info("card debited")
	return balance, nil
}

// History returns up to limit transactions of the card, newest first.
// limit <= 0 selects DefaultHistoryLimit; larger values are capped at MaxHistoryLimit.
func (l *Ledger) History(ctx context.Context, cardID int64, limit int) (txns []*model.CardTransaction, err error) {
	defer l.observe("history", time.Now(), &err)

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	if _, err := l.store.GetCard(ctx, cardID); err != nil {
		return nil, Classify(err)
	}
	txns, err = l.store.ListTransactions(ctx, cardID, limit)
	if err != nil {
		return nil, Classify(err)
	}
	return txns, nil
}

// DeleteCard removes the card and its whole transaction history.
func (l *Ledger) DeleteCard(ctx context.Context, cardID int64) (err error) {
	defer l.observe("delete_card", time.Now(), &err)

	err = l.withCardLock(ctx, cardID, func() error {
		return l.inTx(ctx, "delete_card", func(tx Tx) error {
			card, err := tx.LockCard(ctx, cardID)
			if err != nil {
				return err
			}
			if err := tx.DeleteCard(ctx, card.ID); err != nil {
				return err
			}
			return l.enqueue(ctx, tx, model.EventCardDeleted, card.ID, "", decimal.Zero, card.Balance, "")
		})
	})
	if err != nil {
		return err
	}

	l.log.WithField("card_id", cardID).Info("card deleted")
	return nil
}

func (l *Ledger) withCardLock(ctx context.Context, cardID int64, fn func() error) error {
	unlock, err := l.locker.Lock(ctx, cardID)
	if err != nil {
		return Classify(err)
	}
	defer unlock()
	return fn()
}

func (l *Ledger) enqueue(ctx context.Context, tx Tx, eventType string, cardID int64, txnNo string, amount, balance decimal.Decimal, tag string) error {
	if l.topic == "" {
		return nil
	}
	payload, err := json.Marshal(model.LedgerEvent{
		EventID:       idgen.GenerateEventKey(),
		Type:          eventType,
		CardID:        cardID,
		TransactionNo: txnNo,
		Amount:        amount,
		Balance:       balance,
		Tag:           tag,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	return tx.EnqueueEvent(ctx, &model.OutboxMessage{
		MessageKey: strconv.FormatInt(cardID, 10),
		Topic:      l.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func (l *Ledger) observe(op string, start time.Time, err *error) {
	result := resultLabel(*err)
	if l.metrics != nil {
		l.metrics.ObserveLedgerOp(op, result, time.Since(start))
	}
	if result == "store_failure" {
		l.log.WithError(*err).WithField("op", op).Error("ledger operation failed")
	}
}
