package services

import (
	"context"
	"fmt"
	"os"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/paymentintent"

	"chapterfin/internal/models"
)

// AuthorizationParams describes one authorization request to the external
// processor. TransferAmountCents is what the chapter's connected account
// receives after the platform takes its cut.
type AuthorizationParams struct {
	AmountCents         int64
	TransferAmountCents int64
	Method              models.PaymentMethod
	DestinationAccount  string
	IdempotencyKey      string
	Metadata            map[string]string
}

// Authorization is the processor-side handle for one authorization
type Authorization struct {
	ID           string
	ClientHandle string
	Status       models.PaymentIntentStatus
}

// ProcessorClient is the engine's view of the external payment processor.
// The authorization manager depends on this interface only, so it is
// testable without network access.
type ProcessorClient interface {
	CreateAuthorization(ctx context.Context, params AuthorizationParams) (*Authorization, error)
	CancelAuthorization(ctx context.Context, id string) error
	GetAuthorization(ctx context.Context, id string) (*Authorization, error)
}

// StripeService implements ProcessorClient on Stripe PaymentIntents with
// destination charges carrying the computed transfer amount.
type StripeService struct{}

// NewStripeService configures the Stripe client from the environment
func NewStripeService() *StripeService {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	return &StripeService{}
}

func (s *StripeService) CreateAuthorization(ctx context.Context, p AuthorizationParams) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(p.AmountCents),
		Currency:           stripe.String(string(stripe.CurrencyUSD)),
		PaymentMethodTypes: stripe.StringSlice(stripeMethodTypes(p.Method)),
		Metadata:           p.Metadata,
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	if p.DestinationAccount != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(p.DestinationAccount),
			Amount:      stripe.Int64(p.TransferAmountCents),
		}
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return stripeAuthorization(pi), nil
}

func (s *StripeService) CancelAuthorization(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := paymentintent.Cancel(id, params); err != nil {
		return fmt.Errorf("stripe cancel payment intent %s: %w", id, err)
	}
	return nil
}

func (s *StripeService) GetAuthorization(ctx context.Context, id string) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get payment intent %s: %w", id, err)
	}
	return stripeAuthorization(pi), nil
}

func stripeAuthorization(pi *stripe.PaymentIntent) *Authorization {
	return &Authorization{
		ID:           pi.ID,
		ClientHandle: pi.ClientSecret,
		Status:       NormalizeProcessorStatus(string(pi.Status)),
	}
}

func stripeMethodTypes(method models.PaymentMethod) []string {
	if method == models.PaymentMethodBankTransfer {
		return []string{"us_bank_account"}
	}
	return []string{"card"}
}

// NormalizeProcessorStatus maps Stripe payment intent statuses onto the
// engine's intent lifecycle. Every requires_* state is still pending from
// the ledger's point of view.
func NormalizeProcessorStatus(s string) models.PaymentIntentStatus {
	switch s {
	case "succeeded":
		return models.PaymentIntentStatusSucceeded
	case "processing":
		return models.PaymentIntentStatusProcessing
	case "canceled":
		return models.PaymentIntentStatusCanceled
	case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		return models.PaymentIntentStatusPending
	default:
		return models.PaymentIntentStatusPending
	}
}
