package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrOutboxMessageNotFound is returned by outbox status updates that match no row.
var ErrOutboxMessageNotFound = errors.New("outbox message not found")

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage is written in the same store transaction as the ledger change
// it describes and later drained to the message bus by the outbox sender.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(128);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

const (
	EventCardCreated   = "card.created"
	EventCardRecharged = "card.recharged"
	EventCardDebited   = "card.debited"
	EventCardDeleted   = "card.deleted"
)

// LedgerEvent is the JSON payload carried by ledger outbox messages.
// Delivery is at least once; consumers dedupe on EventID.
type LedgerEvent struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	CardID        int64           `json:"card_id"`
	TransactionNo string          `json:"transaction_no,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Tag           string          `json:"tag,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
