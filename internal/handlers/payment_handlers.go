package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chapterfin/internal/middleware"
	"chapterfin/internal/models"
	"chapterfin/internal/services"
)

type PaymentHandler struct {
	payments *services.PaymentService
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type authorizeRequest struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

type authorizeResponse struct {
	IntentID            uint   `json:"intent_id"`
	Status              string `json:"status"`
	ClientHandle        string `json:"client_handle"`
	DuesAmountCents     int64  `json:"dues_amount_cents"`
	ChargeAmountCents   int64  `json:"charge_amount_cents"`
	ProcessorFeeCents   int64  `json:"processor_fee_cents"`
	PlatformFeeCents    int64  `json:"platform_fee_cents"`
	TransferAmountCents int64  `json:"transfer_amount_cents"`
}

// Authorize creates (or reuses) a payment authorization for a dues record
func (h *PaymentHandler) Authorize(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req authorizeRequest
	if err := c.Bind(&req); err != nil {
		return services.NewValidationError("invalid request body")
	}

	intent, err := h.payments.CreateOrReuseAuthorization(c.Request().Context(), caller, services.AuthorizationRequest{
		RecordID:    recordID,
		Method:      models.PaymentMethod(req.Method),
		AmountCents: req.AmountCents,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, authorizeResponse{
		IntentID:            intent.ID,
		Status:              string(intent.Status),
		ClientHandle:        intent.ClientHandle,
		DuesAmountCents:     intent.DuesAmountCents,
		ChargeAmountCents:   intent.ChargeAmountCents,
		ProcessorFeeCents:   intent.ProcessorFeeCents,
		PlatformFeeCents:    intent.PlatformFeeCents,
		TransferAmountCents: intent.TransferAmountCents,
	})
}

// CancelIntent cancels a pending authorization
func (h *PaymentHandler) CancelIntent(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	intentID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	intent, err := h.payments.CancelAuthorization(c.Request().Context(), caller, intentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"intent_id": intent.ID, "status": intent.Status})
}
