package ledger

import (
	"context"

	"arcadepay/internal/model"

	"github.com/shopspring/decimal"
)

// Store is the durable backend of the ledger.
//
// InTx runs fn inside one atomic unit: either every write made through the Tx
// becomes visible or none does. Implementations must be safe for concurrent use.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetCard(ctx context.Context, id int64) (*model.Card, error)
	ListCards(ctx context.Context) ([]*model.Card, error)
	// ListTransactions returns up to limit transactions of a card, newest first.
	ListTransactions(ctx context.Context, cardID int64, limit int) ([]*model.CardTransaction, error)
}

// Tx is the write side of a store transaction.
type Tx interface {
	// LockCard reads the card and holds it against other writers until the
	// transaction ends. Returns ErrCardNotFound if absent.
	LockCard(ctx context.Context, id int64) (*model.Card, error)
	// InsertCard assigns card.ID. Returns ErrDuplicateCardNumber on a taken number.
	InsertCard(ctx context.Context, card *model.Card) error
	// ApplyDelta adds delta to the balance only if the card is still at version
	// and the result stays non-negative; otherwise ErrConflict.
	ApplyDelta(ctx context.Context, id, version int64, delta decimal.Decimal) error
	AppendTransaction(ctx context.Context, txn *model.CardTransaction) error
	// DeleteCard removes the card together with all of its transactions.
	DeleteCard(ctx context.Context, id int64) error
	EnqueueEvent(ctx context.Context, msg *model.OutboxMessage) error
}
