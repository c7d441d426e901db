/**
 * @description
 * Domain models for the accounts whose balances this service moves. Account rows are
 * owned by the customer system; this service only reads them and mutates the balance
 * column under a row lock.
 *
 * @dependencies
 * - github.com/shopspring/decimal: fixed-point money arithmetic.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a customer account with a fixed-point balance.
type Account struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Debit returns a copy of the account with amount removed from the balance.
// Callers are expected to have checked CanCover first.
func (a Account) Debit(amount decimal.Decimal) Account {
	a.Balance = a.Balance.Sub(amount)
	return a
}

// Credit returns a copy of the account with amount added to the balance.
func (a Account) Credit(amount decimal.Decimal) Account {
	a.Balance = a.Balance.Add(amount)
	return a
}

// CanCover reports whether the balance is at least amount.
func (a Account) CanCover(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
