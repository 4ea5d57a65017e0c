package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"

	"chapterfin/internal/models"
	"chapterfin/internal/services"
)

type StripeWebhookHandler struct {
	payments     *services.PaymentService
	installments *services.InstallmentService
	secret       string
}

func NewStripeWebhookHandler(payments *services.PaymentService, installments *services.InstallmentService) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		payments:     payments,
		installments: installments,
		secret:       os.Getenv("STRIPE_WEBHOOK_SECRET"),
	}
}

// Handle verifies the event signature and settles the matching intent.
// Stripe retries on non-2xx, so unknown or already-settled intents still
// return 200.
func (h *StripeWebhookHandler) Handle(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read payload")
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.Request().Header.Get("Stripe-Signature"), h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "signature verification failed")
	}

	var status models.PaymentIntentStatus
	switch event.Type {
	case "payment_intent.succeeded":
		status = models.PaymentIntentStatusSucceeded
	case "payment_intent.payment_failed":
		status = models.PaymentIntentStatusFailed
	case "payment_intent.canceled":
		status = models.PaymentIntentStatusCanceled
	case "payment_intent.processing":
		status = models.PaymentIntentStatusProcessing
	default:
		return c.NoContent(http.StatusOK)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payment intent payload")
	}

	failureReason := ""
	if pi.LastPaymentError != nil {
		failureReason = pi.LastPaymentError.Msg
	}

	intent, err := h.payments.HandleSettlement(c.Request().Context(), pi.ID, status, failureReason)
	if err != nil {
		var notFound *services.NotFoundError
		var conflict *services.ConflictError
		if errors.As(err, &notFound) || errors.As(err, &conflict) {
			return c.NoContent(http.StatusOK)
		}
		return err
	}

	if intent.InstallmentPaymentID != nil {
		if err := h.installments.HandleIntentSettled(c.Request().Context(), intent); err != nil {
			log.Printf("webhook: advancing installment plan for intent %d: %v", intent.ID, err)
		}
	}

	return c.NoContent(http.StatusOK)
}
