package handlers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"chapterfin/internal/middleware"
	"chapterfin/internal/models"
	"chapterfin/internal/services"
)

const summaryCacheTTL = 2 * time.Minute

type SummaryHandler struct {
	configs services.ConfigStore
	records services.RecordStore
	cache   *services.RedisCache
}

func NewSummaryHandler(configs services.ConfigStore, records services.RecordStore, cache *services.RedisCache) *SummaryHandler {
	return &SummaryHandler{configs: configs, records: records, cache: cache}
}

type memberSummaryRow struct {
	MemberID         uint              `json:"member_id"`
	MemberName       string            `json:"member_name"`
	Cohort           string            `json:"cohort"`
	Status           models.DuesStatus `json:"status"`
	TotalAmountCents int64             `json:"total_amount_cents"`
	AmountPaidCents  int64             `json:"amount_paid_cents"`
	BalanceCents     int64             `json:"balance_cents"`
	LateFeeCents     int64             `json:"late_fee_cents"`
	DaysOverdue      int               `json:"days_overdue"`
}

type chapterSummary struct {
	ChapterID             uint                      `json:"chapter_id"`
	ConfigurationID       uint                      `json:"configuration_id"`
	FiscalPeriod          string                    `json:"fiscal_period"`
	TotalBilledCents      int64                     `json:"total_billed_cents"`
	TotalCollectedCents   int64                     `json:"total_collected_cents"`
	TotalOutstandingCents int64                     `json:"total_outstanding_cents"`
	StatusCounts          map[models.DuesStatus]int `json:"status_counts"`
	Members               []memberSummaryRow        `json:"members"`
	GeneratedAt           time.Time                 `json:"generated_at"`
}

func (h *SummaryHandler) buildSummary(c echo.Context, chapterID uint) (chapterSummary, error) {
	ctx := c.Request().Context()
	key := fmt.Sprintf("summary:chapter:%d", chapterID)
	return services.GetOrSet(h.cache, ctx, key, summaryCacheTTL, func() (chapterSummary, error) {
		cfg, err := h.configs.Current(ctx, chapterID)
		if err != nil {
			return chapterSummary{}, err
		}
		recs, err := h.records.ByConfig(ctx, cfg.ID)
		if err != nil {
			return chapterSummary{}, err
		}

		now := time.Now()
		summary := chapterSummary{
			ChapterID:       chapterID,
			ConfigurationID: cfg.ID,
			FiscalPeriod:    cfg.FiscalPeriod,
			StatusCounts:    map[models.DuesStatus]int{},
			Members:         make([]memberSummaryRow, 0, len(recs)),
			GeneratedAt:     now,
		}
		for i := range recs {
			rec := &recs[i]
			summary.TotalBilledCents += rec.TotalAmountCents
			summary.TotalCollectedCents += rec.AmountPaidCents
			if rec.Status != models.DuesStatusWaived {
				summary.TotalOutstandingCents += rec.BalanceCents
			}
			summary.StatusCounts[rec.Status]++
			summary.Members = append(summary.Members, memberSummaryRow{
				MemberID:         rec.MemberID,
				MemberName:       rec.Member.Name,
				Cohort:           rec.Member.Cohort,
				Status:           rec.Status,
				TotalAmountCents: rec.TotalAmountCents,
				AmountPaidCents:  rec.AmountPaidCents,
				BalanceCents:     rec.BalanceCents,
				LateFeeCents:     rec.LateFeeCents,
				DaysOverdue:      rec.DaysOverdue(now),
			})
		}
		return summary, nil
	})
}

// ChapterSummary returns the collection roll-up for a chapter's current
// configuration
func (h *SummaryHandler) ChapterSummary(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	chapterID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if caller.ChapterID != chapterID {
		return services.NewAuthorizationError("not a member of this chapter")
	}
	summary, err := h.buildSummary(c, chapterID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

// ChapterSummaryCSV exports the per-member rows as a CSV download
func (h *SummaryHandler) ChapterSummaryCSV(c echo.Context) error {
	caller := middleware.CallerFrom(c)
	chapterID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if !caller.IsAdmin() || caller.ChapterID != chapterID {
		return services.NewAuthorizationError("only a chapter admin may export the summary")
	}
	summary, err := h.buildSummary(c, chapterID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"member_id", "member_name", "cohort", "status", "total", "paid", "balance", "late_fee", "days_overdue"})
	for _, row := range summary.Members {
		_ = w.Write([]string{
			fmt.Sprint(row.MemberID),
			row.MemberName,
			row.Cohort,
			string(row.Status),
			centsToDecimal(row.TotalAmountCents),
			centsToDecimal(row.AmountPaidCents),
			centsToDecimal(row.BalanceCents),
			centsToDecimal(row.LateFeeCents),
			fmt.Sprint(row.DaysOverdue),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	filename := fmt.Sprintf("dues-summary-%s.csv", summary.FiscalPeriod)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}

func centsToDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
