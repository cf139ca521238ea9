package repository

import (
	"context"

	"arcadepay/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CardTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// ListByCardID returns the newest limit transactions of a card.
func (r *TransactionRepository) ListByCardID(ctx context.Context, cardID int64, limit int) ([]*model.CardTransaction, error) {
	var transactions []*model.CardTransaction
	err := r.db.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("id DESC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) DeleteByCardID(ctx context.Context, tx *gorm.DB, cardID int64) error {
	return tx.WithContext(ctx).Where("card_id = ?", cardID).Delete(&model.CardTransaction{}).Error
}

func (r *TransactionRepository) DeleteAll(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).Where("1 = 1").Delete(&model.CardTransaction{}).Error
}
