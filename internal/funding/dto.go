package funding

import "github.com/shopspring/decimal"

// CardInRequest captures user-provided data to fund a wallet from a card.
type CardInRequest struct {
	CardNumber string          `json:"card_number"`
	Expiry     string          `json:"expiry"`
	CVV        string          `json:"cvv"`
	Amount     decimal.Decimal `json:"amount"`
	ClientTxID string          `json:"client_tx_id"`
}

// FundingResponse represents the API response for card funding.
type FundingResponse struct {
	Reference         string `json:"reference"`
	Status            string `json:"status"`
	Amount            string `json:"amount"`
	WalletBalance     string `json:"wallet_balance"`
	AcquirerReference string `json:"acquirer_reference,omitempty"`
	Duplicate         bool   `json:"duplicate"`
}
