package service

import (
	"context"

	"arcadepay/internal/ledger"
	"arcadepay/internal/model"
)

// CardReader is the read side of the store.
type CardReader interface {
	GetCard(ctx context.Context, id int64) (*model.Card, error)
	ListCards(ctx context.Context) ([]*model.Card, error)
}

// CardRegistry answers card lookups. It never writes and never takes card locks,
// so it sees the latest committed state.
type CardRegistry struct {
	store CardReader
}

func NewCardRegistry(store CardReader) *CardRegistry {
	return &CardRegistry{store: store}
}

func (r *CardRegistry) Get(ctx context.Context, id int64) (*model.Card, error) {
	card, err := r.store.GetCard(ctx, id)
	if err != nil {
		return nil, ledger.Classify(err)
	}
	return card, nil
}

// List returns every card ordered by id.
func (r *CardRegistry) List(ctx context.Context) ([]*model.Card, error) {
	cards, err := r.store.ListCards(ctx)
	if err != nil {
		return nil, ledger.Classify(err)
	}
	if cards == nil {
		cards = []*model.Card{}
	}
	return cards, nil
}
