package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chapterfin/internal/middleware"
	"chapterfin/internal/models"
	"chapterfin/internal/services"
)

type InstallmentHandler struct {
	installments *services.InstallmentService
}

func NewInstallmentHandler(installments *services.InstallmentService) *InstallmentHandler {
	return &InstallmentHandler{installments: installments}
}

// Eligibility reports whether a record may be paid in installments and
// which counts are allowed
func (h *InstallmentHandler) Eligibility(c echo.Context) error {
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	result, err := h.installments.CheckEligibility(c.Request().Context(), recordID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type createPlanRequest struct {
	NumInstallments int    `json:"num_installments"`
	Method          string `json:"method"`
}

// CreatePlan splits a record's balance into installments and charges the
// first one immediately
func (h *InstallmentHandler) CreatePlan(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req createPlanRequest
	if err := c.Bind(&req); err != nil {
		return services.NewValidationError("invalid request body")
	}
	plan, err := h.installments.CreatePlan(c.Request().Context(), caller, recordID, req.NumInstallments, models.PaymentMethod(req.Method))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, plan)
}

// CancelPlan cancels an active plan's remaining installments
func (h *InstallmentHandler) CancelPlan(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	planID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	plan, err := h.installments.CancelPlan(c.Request().Context(), caller, planID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}
