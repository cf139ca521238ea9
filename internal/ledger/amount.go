package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// maxAmount is the largest value a decimal(20,2) column holds. It bounds both
// a single amount and a resulting balance, so the SQL and in-memory stores
// accept exactly the same states.
var maxAmount = decimal.RequireFromString("999999999999999999.99")

// validateAmount accepts positive amounts with at most two fractional digits.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(maxAmount) {
		return ErrInvalidAmount
	}
	return nil
}

func checkBalanceLimit(balance decimal.Decimal) error {
	if balance.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: resulting balance would exceed %s", ErrInvalidAmount, maxAmount.StringFixed(2))
	}
	return nil
}
