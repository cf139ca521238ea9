package memstore

import (
	"context"

	"arcadepay/internal/ledger"
	"arcadepay/internal/model"

	"github.com/shopspring/decimal"
)

type opKind int

const (
	opInsertCard opKind = iota
	opApplyDelta
	opAppendTxn
	opDeleteCard
	opEnqueue
)

type op struct {
	kind    opKind
	id      int64
	version int64
	delta   decimal.Decimal
	card    *model.Card
	txn     *model.CardTransaction
	msg     *model.OutboxMessage
}

// memTx buffers writes until commit. Reads see committed state plus the
// effect of this transaction's own writes on the touched card.
type memTx struct {
	store *Store
	ops   []op
}

func (t *memTx) LockCard(ctx context.Context, id int64) (*model.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := t.store
	s.mu.RLock()
	c, ok := s.cards[id]
	if ok {
		c = cloneCard(c)
	}
	s.mu.RUnlock()

	for _, o := range t.ops {
		switch {
		case o.kind == opInsertCard && o.card.ID == id:
			c, ok = cloneCard(o.card), true
		case o.kind == opDeleteCard && o.id == id:
			c, ok = nil, false
		case o.kind == opApplyDelta && o.id == id && ok:
			c.Balance = c.Balance.Add(o.delta)
			c.Version++
		}
	}
	if !ok {
		return nil, ledger.ErrCardNotFound
	}
	return c, nil
}

func (t *memTx) InsertCard(ctx context.Context, card *model.Card) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := t.store
	s.mu.Lock()
	if _, dup := s.numbers[card.Number]; dup {
		s.mu.Unlock()
		return ledger.ErrDuplicateCardNumber
	}
	s.nextCardID++
	card.ID = s.nextCardID
	s.mu.Unlock()

	t.ops = append(t.ops, op{kind: opInsertCard, card: card})
	return nil
}

func (t *memTx) ApplyDelta(ctx context.Context, id, version int64, delta decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := t.LockCard(ctx, id)
	if err != nil {
		return err
	}
	if c.Version != version || c.Balance.Add(delta).IsNegative() {
		return ledger.ErrConflict
	}
	t.ops = append(t.ops, op{kind: opApplyDelta, id: id, version: version, delta: delta})
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, txn *model.CardTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.ops = append(t.ops, op{kind: opAppendTxn, txn: txn})
	return nil
}

func (t *memTx) DeleteCard(ctx context.Context, id int64) error {
	if _, err := t.LockCard(ctx, id); err != nil {
		return err
	}
	t.ops = append(t.ops, op{kind: opDeleteCard, id: id})
	return nil
}

func (t *memTx) EnqueueEvent(ctx context.Context, msg *model.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.ops = append(t.ops, op{kind: opEnqueue, msg: msg})
	return nil
}
