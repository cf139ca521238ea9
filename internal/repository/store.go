package repository

import (
	"context"
	"fmt"

	"arcadepay/internal/ledger"
	"arcadepay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Store is the gorm backed ledger.Store. It works on MySQL and PostgreSQL.
type Store struct {
	db     *gorm.DB
	cards  *CardRepository
	txns   *TransactionRepository
	outbox *OutboxRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:     db,
		cards:  NewCardRepository(db),
		txns:   NewTransactionRepository(db),
		outbox: NewOutboxRepository(db),
	}
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{store: s, db: tx})
	})
	return mapError(err)
}

func (s *Store) GetCard(ctx context.Context, id int64) (*model.Card, error) {
	card, err := s.cards.GetByID(ctx, id)
	return card, mapError(err)
}

func (s *Store) ListCards(ctx context.Context) ([]*model.Card, error) {
	cards, err := s.cards.List(ctx)
	return cards, mapError(err)
}

func (s *Store) ListTransactions(ctx context.Context, cardID int64, limit int) ([]*model.CardTransaction, error) {
	txns, err := s.txns.ListByCardID(ctx, cardID, limit)
	return txns, mapError(err)
}

func (s *Store) BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error) {
	return s.cards.BalanceDrifts(ctx)
}

// ResetAll deletes every transaction and card in one database transaction.
func (s *Store) ResetAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.txns.DeleteAll(ctx, tx); err != nil {
			return err
		}
		return s.cards.DeleteAll(ctx, tx)
	})
}

func (s *Store) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	return s.outbox.GetPendingMessages(ctx, limit)
}

func (s *Store) MarkAsSent(ctx context.Context, id int64) error {
	return s.outbox.MarkAsSent(ctx, id)
}

func (s *Store) IncrementRetryCount(ctx context.Context, id int64) error {
	return s.outbox.IncrementRetryCount(ctx, id)
}

func (s *Store) MarkAsFailed(ctx context.Context, id int64) error {
	return s.outbox.MarkAsFailed(ctx, id)
}

type gormTx struct {
	store *Store
	db    *gorm.DB
}

func (t *gormTx) LockCard(ctx context.Context, id int64) (*model.Card, error) {
	return t.store.cards.GetByIDForUpdate(ctx, t.db, id)
}

func (t *gormTx) InsertCard(ctx context.Context, card *model.Card) error {
	return t.store.cards.Create(ctx, t.db, card)
}

func (t *gormTx) ApplyDelta(ctx context.Context, id, version int64, delta decimal.Decimal) error {
	return t.store.cards.ApplyDelta(ctx, t.db, id, version, delta)
}

// AppendTransaction reports a taken transaction number as a conflict: the
// ledger retries with a freshly generated number.
func (t *gormTx) AppendTransaction(ctx context.Context, txn *model.CardTransaction) error {
	err := t.store.txns.Create(ctx, t.db, txn)
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: transaction number %s: %w", ledger.ErrConflict, txn.TransactionNo, err)
	}
	return mapError(err)
}

// DeleteCard removes transactions explicitly so the cascade does not depend
// on the schema having the foreign key.
func (t *gormTx) DeleteCard(ctx context.Context, id int64) error {
	if err := t.store.txns.DeleteByCardID(ctx, t.db, id); err != nil {
		return err
	}
	return t.store.cards.Delete(ctx, t.db, id)
}

func (t *gormTx) EnqueueEvent(ctx context.Context, msg *model.OutboxMessage) error {
	return t.store.outbox.Create(ctx, t.db, msg)
}
