package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chapterfin/internal/middleware"
	"chapterfin/internal/models"
	"chapterfin/internal/services"
)

type DuesHandler struct {
	records services.RecordStore
	ledger  *services.LedgerService
}

func NewDuesHandler(records services.RecordStore, ledger *services.LedgerService) *DuesHandler {
	return &DuesHandler{records: records, ledger: ledger}
}

// GetRecord returns a single dues record with its payments
func (h *DuesHandler) GetRecord(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.records.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !caller.CanActOn(rec) {
		return services.NewAuthorizationError("not allowed to view this record")
	}
	return c.JSON(http.StatusOK, rec)
}

// MemberRecords lists all dues records for a member
func (h *DuesHandler) MemberRecords(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	memberID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if caller.MemberID != memberID && !caller.IsAdmin() {
		return services.NewAuthorizationError("not allowed to view these records")
	}
	recs, err := h.records.ByMember(c.Request().Context(), memberID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, recs)
}

type recordPaymentRequest struct {
	AmountCents  int64  `json:"amount_cents"`
	Method       string `json:"method"`
	ReferenceKey string `json:"reference_key"`
	Note         string `json:"note"`
}

// RecordPayment applies a manual payment to a record
func (h *DuesHandler) RecordPayment(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req recordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return services.NewValidationError("invalid request body")
	}
	method := models.PaymentMethod(req.Method)
	if method == "" {
		method = models.PaymentMethodCash
	}
	rec, err := h.ledger.RecordPayment(c.Request().Context(), caller, id, req.AmountCents, method, req.ReferenceKey, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

// DeletePayment removes a recorded payment and re-derives the balance
func (h *DuesHandler) DeletePayment(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	paymentID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.ledger.DeletePayment(c.Request().Context(), caller, paymentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

type adjustmentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

// AddAdjustment applies a signed adjustment to a record
func (h *DuesHandler) AddAdjustment(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req adjustmentRequest
	if err := c.Bind(&req); err != nil {
		return services.NewValidationError("invalid request body")
	}
	rec, err := h.ledger.AddAdjustment(c.Request().Context(), caller, id, req.AmountCents, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

type waiveRequest struct {
	Note string `json:"note"`
}

// Waive marks a record waived
func (h *DuesHandler) Waive(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req waiveRequest
	if err := c.Bind(&req); err != nil {
		return services.NewValidationError("invalid request body")
	}
	rec, err := h.ledger.Waive(c.Request().Context(), caller, id, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Unwaive restores a waived record to its derived status
func (h *DuesHandler) Unwaive(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.ledger.Unwaive(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}
