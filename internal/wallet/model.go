package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a user's stored value account. Its balance lives in the ledger.
type Wallet struct {
	ID        string
	OwnerID   string
	Currency  string
	Status    string
	CreatedAt time.Time
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   decimal.Decimal
	Currency string
	AsOf     time.Time
}
