package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionKindRecharge = "RECHARGE"
	TransactionKindDebit    = "DEBIT"
)

// CardTransaction is one append-only entry of a card's ledger.
//
// Rows are only ever inserted. Amount is signed (positive for RECHARGE,
// negative for DEBIT) so that the card balance always equals the sum of its
// transaction amounts. Note is set for recharges and ItemID for debits, never both.
type CardTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	CardID        int64           `gorm:"index;not null" json:"card_id"`
	Kind          string          `gorm:"type:varchar(16);not null" json:"kind"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Note          *string         `gorm:"type:varchar(256)" json:"note,omitempty"`
	ItemID        *string         `gorm:"type:varchar(64)" json:"item_id,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CardTransaction) TableName() string {
	return "card_transactions"
}
