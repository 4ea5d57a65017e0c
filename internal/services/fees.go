package services

import (
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"chapterfin/internal/models"
)

// FeeBreakdown is the fee split for one charge, all amounts in cents.
// ChargeAmountCents is what the payer is billed, TransferAmountCents what
// the chapter nets after every fee.
type FeeBreakdown struct {
	DuesAmountCents     int64 `json:"dues_amount_cents"`
	ChargeAmountCents   int64 `json:"charge_amount_cents"`
	ProcessorFeeCents   int64 `json:"processor_fee_cents"`
	PlatformFeeCents    int64 `json:"platform_fee_cents"`
	TransferAmountCents int64 `json:"transfer_amount_cents"`
}

// FeeConfig holds the processor and platform fee parameters. Card charges
// follow the payer-absorbs model, bank transfers the organization-absorbs
// model.
type FeeConfig struct {
	CardPct        decimal.Decimal // processor percentage of the charge (card)
	CardFixedCents int64           // processor fixed fee (card)
	BankPct        decimal.Decimal // processor percentage of the dues (bank transfer)
	BankCapCents   int64           // processor fee cap (bank transfer)
	PlatformPct    decimal.Decimal // platform cut, always on the dues amount
}

// LoadFeeConfig reads fee parameters from the environment, defaulting to
// the standard card rate 2.9% + $0.30, bank rate 0.8% capped at $5.00 and
// a 1% platform fee.
func LoadFeeConfig() FeeConfig {
	return FeeConfig{
		CardPct:        getEnvDecimal("FEE_CARD_PCT", "0.029"),
		CardFixedCents: getEnvInt64("FEE_CARD_FIXED_CENTS", 30),
		BankPct:        getEnvDecimal("FEE_BANK_PCT", "0.008"),
		BankCapCents:   getEnvInt64("FEE_BANK_CAP_CENTS", 500),
		PlatformPct:    getEnvDecimal("FEE_PLATFORM_PCT", "0.01"),
	}
}

// Calculate computes the fee split for a dues amount and payment method.
//
// Card (payer absorbs): the charge is grossed up so that after the
// processor deducts pct*charge + fixed, the full dues amount remains.
// charge = (dues + fixed) / (1 - pct), rounded to the cent.
//
// Bank transfer (organization absorbs): the payer is billed exactly the
// dues amount and the processor fee, capped, comes out of the transfer.
func (c FeeConfig) Calculate(duesCents int64, method models.PaymentMethod) (FeeBreakdown, error) {
	if duesCents <= 0 {
		return FeeBreakdown{}, NewValidationError("dues amount must be positive, got %d cents", duesCents)
	}

	dues := decimal.NewFromInt(duesCents)
	platformFee := dues.Mul(c.PlatformPct).Round(0).IntPart()

	switch method {
	case models.PaymentMethodCard:
		charge := dues.Add(decimal.NewFromInt(c.CardFixedCents)).
			Div(decimal.NewFromInt(1).Sub(c.CardPct)).
			Round(0).IntPart()
		return FeeBreakdown{
			DuesAmountCents:     duesCents,
			ChargeAmountCents:   charge,
			ProcessorFeeCents:   charge - duesCents,
			PlatformFeeCents:    platformFee,
			TransferAmountCents: duesCents - platformFee,
		}, nil

	case models.PaymentMethodBankTransfer:
		processorFee := dues.Mul(c.BankPct).Ceil().IntPart()
		if processorFee > c.BankCapCents {
			processorFee = c.BankCapCents
		}
		return FeeBreakdown{
			DuesAmountCents:     duesCents,
			ChargeAmountCents:   duesCents,
			ProcessorFeeCents:   processorFee,
			PlatformFeeCents:    platformFee,
			TransferAmountCents: duesCents - processorFee - platformFee,
		}, nil

	default:
		return FeeBreakdown{}, NewValidationError("unsupported payment method %q", method)
	}
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	raw := fallback
	if value, exists := os.LookupEnv(key); exists && value != "" {
		raw = value
	}
	dec, err := decimal.NewFromString(raw)
	if err != nil {
		dec, _ = decimal.NewFromString(fallback)
	}
	return dec
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
