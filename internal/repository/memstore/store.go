// Package memstore is an in-memory ledger.Store.
//
// Writes made through a Tx are buffered and applied at commit under one mutex,
// after re-validating every optimistic condition (card version, non-negative
// balance, unique number). A transaction that loses a race gets
// ledger.ErrConflict, just as the SQL store does.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"arcadepay/internal/ledger"
	"arcadepay/internal/model"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu      sync.RWMutex
	cards   map[int64]*model.Card
	numbers map[string]int64
	txns    map[int64][]*model.CardTransaction // per card, ascending id
	outbox  []*model.OutboxMessage

	nextCardID int64
	nextTxnID  int64
	nextMsgID  int64

	now func() time.Time
}

func New() *Store {
	return &Store{
		cards:   make(map[int64]*model.Card),
		numbers: make(map[string]int64),
		txns:    make(map[int64][]*model.CardTransaction),
		now:     time.Now,
	}
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &memTx{store: s}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) GetCard(ctx context.Context, id int64) (*model.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, ledger.ErrCardNotFound
	}
	return cloneCard(c), nil
}

func (s *Store) ListCards(ctx context.Context) ([]*model.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	cards := make([]*model.Card, 0, len(s.cards))
	for _, c := range s.cards {
		cards = append(cards, cloneCard(c))
	}
	s.mu.RUnlock()
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards, nil
}

func (s *Store) ListTransactions(ctx context.Context, cardID int64, limit int) ([]*model.CardTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.txns[cardID]
	out := make([]*model.CardTransaction, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		t := *all[i]
		out = append(out, &t)
	}
	return out, nil
}

// BalanceDrifts lists cards whose balance differs from the sum of their transactions.
func (s *Store) BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var drifts []model.BalanceDrift
	for id, c := range s.cards {
		sum := decimal.Zero
		for _, t := range s.txns[id] {
			sum = sum.Add(t.Amount)
		}
		if !sum.Equal(c.Balance) {
			drifts = append(drifts, model.BalanceDrift{CardID: id, Balance: c.Balance, LedgerSum: sum})
		}
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].CardID < drifts[j].CardID })
	return drifts, nil
}

// ResetAll removes every card and transaction. Outbox messages are kept.
func (s *Store) ResetAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = make(map[int64]*model.Card)
	s.numbers = make(map[string]int64)
	s.txns = make(map[int64][]*model.CardTransaction)
	return nil
}

func (s *Store) commit(t *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(t.ops); err != nil {
		return err
	}

	now := s.now()
	for _, o := range t.ops {
		switch o.kind {
		case opInsertCard:
			c := cloneCard(o.card)
			c.CreatedAt, c.UpdatedAt = now, now
			o.card.CreatedAt, o.card.UpdatedAt = now, now
			s.cards[c.ID] = c
			s.numbers[c.Number] = c.ID
		case opApplyDelta:
			c := s.cards[o.id]
			c.Balance = c.Balance.Add(o.delta)
			c.Version++
			c.UpdatedAt = now
		case opAppendTxn:
			s.nextTxnID++
			o.txn.ID = s.nextTxnID
			o.txn.CreatedAt = now
			cp := *o.txn
			s.txns[cp.CardID] = append(s.txns[cp.CardID], &cp)
		case opDeleteCard:
			c := s.cards[o.id]
			delete(s.numbers, c.Number)
			delete(s.cards, o.id)
			delete(s.txns, o.id)
		case opEnqueue:
			s.nextMsgID++
			o.msg.ID = s.nextMsgID
			o.msg.CreatedAt, o.msg.UpdatedAt = now, now
			if o.msg.Status == "" {
				o.msg.Status = model.OutboxStatusPending
			}
			m := *o.msg
			s.outbox = append(s.outbox, &m)
		}
	}
	return nil
}

// validate replays ops against a view of the committed state.
func (s *Store) validate(ops []op) error {
	type cardView struct {
		number  string
		balance decimal.Decimal
		version int64
	}
	view := make(map[int64]*cardView)
	gone := make(map[int64]bool)
	taken := make(map[string]bool)

	lookup := func(id int64) (*cardView, bool) {
		if gone[id] {
			return nil, false
		}
		if v, ok := view[id]; ok {
			return v, true
		}
		c, ok := s.cards[id]
		if !ok {
			return nil, false
		}
		v := &cardView{number: c.Number, balance: c.Balance, version: c.Version}
		view[id] = v
		return v, true
	}

	for _, o := range ops {
		switch o.kind {
		case opInsertCard:
			if _, dup := s.numbers[o.card.Number]; dup || taken[o.card.Number] {
				return ledger.ErrDuplicateCardNumber
			}
			taken[o.card.Number] = true
			view[o.card.ID] = &cardView{number: o.card.Number, balance: o.card.Balance, version: o.card.Version}
		case opApplyDelta:
			v, ok := lookup(o.id)
			if !ok {
				return ledger.ErrCardNotFound
			}
			next := v.balance.Add(o.delta)
			if v.version != o.version || next.IsNegative() {
				return ledger.ErrConflict
			}
			v.balance = next
			v.version++
		case opAppendTxn:
			if _, ok := lookup(o.txn.CardID); !ok {
				return ledger.ErrCardNotFound
			}
		case opDeleteCard:
			v, ok := lookup(o.id)
			if !ok {
				return ledger.ErrCardNotFound
			}
			delete(taken, v.number)
			gone[o.id] = true
		}
	}
	return nil
}

func cloneCard(c *model.Card) *model.Card {
	cp := *c
	cp.Transactions = nil
	return &cp
}
