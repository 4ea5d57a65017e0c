package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"chapterfin/internal/middleware"
	"chapterfin/internal/models"
	"chapterfin/internal/services"
	"chapterfin/internal/tasks"
)

type ConfigurationHandler struct {
	configs services.ConfigStore
	batch   *services.BatchService
	tasks   services.TaskEnqueuer
}

func NewConfigurationHandler(configs services.ConfigStore, batch *services.BatchService, taskQueue services.TaskEnqueuer) *ConfigurationHandler {
	return &ConfigurationHandler{configs: configs, batch: batch, tasks: taskQueue}
}

type configurationRequest struct {
	ChapterID        uint             `json:"chapter_id"`
	FiscalPeriod     string           `json:"fiscal_period"`
	PeriodStart      time.Time        `json:"period_start"`
	PeriodEnd        time.Time        `json:"period_end"`
	BaseRateCents    int64            `json:"base_rate_cents"`
	CohortRates      map[string]int64 `json:"cohort_rates"`
	DueDate          time.Time        `json:"due_date"`
	GraceDays        int              `json:"grace_days"`
	LateFeeType      string           `json:"late_fee_type"`
	LateFeeFlatCents int64            `json:"late_fee_flat_cents"`
	LateFeePercent   float64          `json:"late_fee_percent"`
}

// CreateConfiguration stores a new dues configuration for a chapter
func (h *ConfigurationHandler) CreateConfiguration(c echo.Context) error {
	caller := middleware.CallerFrom(c)

	var req configurationRequest
	if err := c.Bind(&req); err != nil {
		return services.NewValidationError("invalid request body")
	}
	if !caller.IsAdmin() || caller.ChapterID != req.ChapterID {
		return services.NewAuthorizationError("only a chapter admin may create configurations")
	}
	if req.BaseRateCents < 0 {
		return services.NewValidationError("base rate must not be negative")
	}
	if req.FiscalPeriod == "" {
		return services.NewValidationError("fiscal period is required")
	}

	cfg := &models.DuesConfiguration{
		ChapterID:        req.ChapterID,
		FiscalPeriod:     req.FiscalPeriod,
		PeriodStart:      req.PeriodStart,
		PeriodEnd:        req.PeriodEnd,
		BaseRateCents:    req.BaseRateCents,
		CohortRates:      req.CohortRates,
		DueDate:          req.DueDate,
		GraceDays:        req.GraceDays,
		LateFeeType:      models.LateFeeType(req.LateFeeType),
		LateFeeFlatCents: req.LateFeeFlatCents,
		LateFeePercent:   req.LateFeePercent,
	}
	if cfg.LateFeeType == "" {
		cfg.LateFeeType = models.LateFeeTypeFlat
	}
	if err := h.configs.Create(c.Request().Context(), cfg); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cfg)
}

// UpdateConfiguration edits an existing configuration. Records already
// assigned keep their amounts; edits only affect future assignments.
func (h *ConfigurationHandler) UpdateConfiguration(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	cfg, err := h.configs.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !caller.IsAdmin() || caller.ChapterID != cfg.ChapterID {
		return services.NewAuthorizationError("only a chapter admin may edit configurations")
	}

	var req configurationRequest
	if err := c.Bind(&req); err != nil {
		return services.NewValidationError("invalid request body")
	}
	if req.FiscalPeriod != "" {
		cfg.FiscalPeriod = req.FiscalPeriod
	}
	if !req.PeriodStart.IsZero() {
		cfg.PeriodStart = req.PeriodStart
	}
	if !req.PeriodEnd.IsZero() {
		cfg.PeriodEnd = req.PeriodEnd
	}
	if req.BaseRateCents > 0 {
		cfg.BaseRateCents = req.BaseRateCents
	}
	if req.CohortRates != nil {
		cfg.CohortRates = req.CohortRates
	}
	if !req.DueDate.IsZero() {
		cfg.DueDate = req.DueDate
	}
	if req.GraceDays > 0 {
		cfg.GraceDays = req.GraceDays
	}
	if req.LateFeeType != "" {
		cfg.LateFeeType = models.LateFeeType(req.LateFeeType)
	}
	if req.LateFeeFlatCents > 0 {
		cfg.LateFeeFlatCents = req.LateFeeFlatCents
	}
	if req.LateFeePercent > 0 {
		cfg.LateFeePercent = req.LateFeePercent
	}

	if err := h.configs.Save(c.Request().Context(), cfg); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

// CurrentConfiguration returns the chapter's current configuration
func (h *ConfigurationHandler) CurrentConfiguration(c echo.Context) error {
	chapterID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	cfg, err := h.configs.Current(c.Request().Context(), chapterID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

// MakeCurrent marks a configuration current and schedules its recurring
// late-fee sweep
func (h *ConfigurationHandler) MakeCurrent(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	cfg, err := h.configs.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !caller.IsAdmin() || caller.ChapterID != cfg.ChapterID {
		return services.NewAuthorizationError("only a chapter admin may change the current configuration")
	}
	if err := h.configs.MakeCurrent(c.Request().Context(), id); err != nil {
		return err
	}

	// Daily sweep starting the day after the due date
	sweep := tasks.NewRecurringTask(tasks.TaskLateFeeSweep,
		map[string]interface{}{"config_id": strconv.FormatUint(uint64(cfg.ID), 10)},
		cfg.DueDate.AddDate(0, 0, 1),
		"FREQ=DAILY",
		3,
	)
	if err := h.tasks.Enqueue(c.Request().Context(), sweep); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"status": "current", "configuration_id": cfg.ID})
}

// Assign runs the bulk assignment for a configuration
func (h *ConfigurationHandler) Assign(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	result, err := h.batch.AssignToChapter(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// ApplyLateFees runs the late-fee sweep for a configuration on demand
func (h *ConfigurationHandler) ApplyLateFees(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	result, err := h.batch.ApplyLateFees(c.Request().Context(), caller, id, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// pathID parses a numeric path parameter
func pathID(c echo.Context, name string) (uint, error) {
	raw := c.Param(name)
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, services.NewValidationError("invalid %s %q", name, raw)
	}
	return uint(parsed), nil
}
