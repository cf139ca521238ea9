package service

import (
	"context"
	"errors"

	"arcadepay/internal/ledger"
	"arcadepay/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DemoCardHolder = "Demo Player"
	DemoCardNumber = "0000-0000-0000-0001"
)

var demoCardBalance = decimal.NewFromInt(50)

type CardCreator interface {
	CreateCard(ctx context.Context, holder, number string, initialBalance decimal.Decimal) (*model.Card, error)
}

// SeedDemoCard creates the demo card when the store has no cards yet.
// It goes through the ledger so the initial balance gets its recharge entry.
func SeedDemoCard(ctx context.Context, registry *CardRegistry, creator CardCreator, log logrus.FieldLogger) error {
	cards, err := registry.List(ctx)
	if err != nil {
		return err
	}
	if len(cards) > 0 {
		return nil
	}

	card, err := creator.CreateCard(ctx, DemoCardHolder, DemoCardNumber, demoCardBalance)
	if errors.Is(err, ledger.ErrDuplicateCardNumber) {
		// another instance seeded first
		return nil
	}
	if err != nil {
		return err
	}
	log.WithField("card_id", card.ID).Info("demo card seeded")
	return nil
}
