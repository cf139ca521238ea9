package repository

import (
	"context"
	"errors"

	"arcadepay/internal/ledger"
	"arcadepay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CardRepository struct {
	db *gorm.DB
}

func NewCardRepository(db *gorm.DB) *CardRepository {
	return &CardRepository{db: db}
}

func (r *CardRepository) Create(ctx context.Context, tx *gorm.DB, card *model.Card) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Omit(clause.Associations).Create(card).Error
	if isDuplicateKey(err) {
		return ledger.ErrDuplicateCardNumber
	}
	return err
}

func (r *CardRepository) GetByID(ctx context.Context, id int64) (*model.Card, error) {
	var card model.Card
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// GetByIDForUpdate reads the card with SELECT ... FOR UPDATE.
func (r *CardRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Card, error) {
	var card model.Card
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func (r *CardRepository) List(ctx context.Context) ([]*model.Card, error) {
	var cards []*model.Card
	err := r.db.WithContext(ctx).Order("id ASC").Find(&cards).Error
	return cards, err
}

// deltaExpr casts the bound delta to the column type. The driver sends the
// decimal as a string, and MySQL evaluates DECIMAL + string in DOUBLE, which
// loses cents on balances above 2^53 cents.
const deltaExpr = "CAST(? AS DECIMAL(20,2))"

// ApplyDelta is a compare-and-swap on the version column that also refuses
// to take the balance below zero. Zero affected rows means somebody else
// moved the card first.
func (r *CardRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, id, version int64, delta decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Card{}).
		Where("id = ? AND version = ? AND balance + "+deltaExpr+" >= 0", id, version, delta).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + "+deltaExpr, delta),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ledger.ErrConflict
	}

	return nil
}

func (r *CardRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	result := tx.WithContext(ctx).Where("id = ?", id).Delete(&model.Card{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrCardNotFound
	}
	return nil
}

func (r *CardRepository) DeleteAll(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).Where("1 = 1").Delete(&model.Card{}).Error
}

// BalanceDrifts compares every balance with the sum of its transaction amounts.
func (r *CardRepository) BalanceDrifts(ctx context.Context) ([]model.BalanceDrift, error) {
	var drifts []model.BalanceDrift
	err := r.db.WithContext(ctx).
		Table("cards AS c").
		Select("c.id AS card_id, c.balance AS balance, COALESCE(SUM(t.amount), 0) AS ledger_sum").
		Joins("LEFT JOIN card_transactions t ON t.card_id = c.id").
		Group("c.id, c.balance").
		Having("c.balance <> COALESCE(SUM(t.amount), 0)").
		Order("c.id").
		Scan(&drifts).Error
	return drifts, err
}
