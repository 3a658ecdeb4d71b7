// Package payment builds provider invoices and checks pre-checkout payloads.
package payment

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrPayloadMismatch reports a pre-checkout payload different from the one the invoice carried.
var ErrPayloadMismatch = errors.New("payment: payload mismatch")

// RejectMessage is shown by the payment UI when a pre-checkout query is declined.
const RejectMessage = "Something went wrong..."

// Config holds the invoice settings shared by every checkout.
type Config struct {
	ProviderToken  string
	PayloadWord    string
	Currency       string
	Title          string
	Description    string
	StartParameter string
	PriceLabel     string
}

// Invoice is a provider-neutral invoice. Amount is in minor currency units.
type Invoice struct {
	Title          string
	Description    string
	Payload        string
	ProviderToken  string
	StartParameter string
	Currency       string
	Label          string
	Amount         int64
}

// Initiator creates invoices and validates pre-checkout callbacks.
type Initiator struct {
	cfg Config
}

// New returns an Initiator with defaults filled in.
func New(cfg Config) *Initiator {
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	if cfg.Title == "" {
		cfg.Title = "Pizzeria"
	}
	if cfg.Description == "" {
		cfg.Description = "Payment for pizza"
	}
	if cfg.StartParameter == "" {
		cfg.StartParameter = "test-payment"
	}
	if cfg.PriceLabel == "" {
		cfg.PriceLabel = "Pizza"
	}
	return &Initiator{cfg: cfg}
}

// NewInvoice builds an invoice for the given amount in minor units.
func (i *Initiator) NewInvoice(amountMinor int64) (Invoice, error) {
	if amountMinor <= 0 {
		return Invoice{}, fmt.Errorf("payment: invoice amount must be positive, got %d", amountMinor)
	}
	return Invoice{
		Title:          i.cfg.Title,
		Description:    i.cfg.Description,
		Payload:        i.cfg.PayloadWord,
		ProviderToken:  i.cfg.ProviderToken,
		StartParameter: i.cfg.StartParameter,
		Currency:       i.cfg.Currency,
		Label:          i.cfg.PriceLabel,
		Amount:         amountMinor,
	}, nil
}

// Validate accepts a pre-checkout payload only when it equals the configured payload word.
func (i *Initiator) Validate(payload string) error {
	if i.cfg.PayloadWord == "" || subtle.ConstantTimeCompare([]byte(payload), []byte(i.cfg.PayloadWord)) != 1 {
		return ErrPayloadMismatch
	}
	return nil
}
