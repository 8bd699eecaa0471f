package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentInstrument is the card data forwarded to the payment gateway. The
// core never stores it; only the last four digits may appear in logs.
type PaymentInstrument struct {
	CardNumber string `json:"card_number"`
	CardHolder string `json:"card_holder"`
	CVV        string `json:"cvv"`
	ExpiryDate string `json:"expiry_date"`
}

// MaskedCard returns the last four digits for audit logging.
func (p PaymentInstrument) MaskedCard() string {
	if len(p.CardNumber) < 4 {
		return "****"
	}
	return "****" + p.CardNumber[len(p.CardNumber)-4:]
}

type ChargeStatus string

const (
	ChargeApproved ChargeStatus = "approved"
	ChargeDeclined ChargeStatus = "declined"
)

type ChargeResult struct {
	ChargeID    string          `json:"charge_id"`
	Status      ChargeStatus    `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	ProcessedAt time.Time       `json:"processed_at"`
}
