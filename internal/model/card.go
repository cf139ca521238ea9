package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is a prepaid arcade card.
// Balance is only ever written by the ledger; everything else is fixed at creation.
type Card struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Holder    string          `gorm:"type:varchar(128);not null" json:"holder"`
	Number    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"number"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	Version   int64           `gorm:"not null;default:0" json:"-"` // optimistic lock
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Transactions []CardTransaction `gorm:"foreignKey:CardID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Card) TableName() string {
	return "cards"
}

// BalanceDrift reports a card whose stored balance no longer matches its transaction log.
type BalanceDrift struct {
	CardID    int64           `json:"card_id"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
}
