package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LateFeeType selects how the late fee is computed
type LateFeeType string

const (
	LateFeeTypeFlat       LateFeeType = "flat"
	LateFeeTypePercentage LateFeeType = "percentage"
)

// DuesConfiguration defines the billing parameters for one fiscal period of
// a chapter. Exactly one configuration per chapter is marked current.
type DuesConfiguration struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	ChapterID     uint      `gorm:"index" json:"chapter_id"`
	FiscalPeriod  string    `gorm:"type:varchar(100)" json:"fiscal_period"` // e.g. "Fall 2026"
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	BaseRateCents int64     `json:"base_rate_cents"`
	// CohortRates overrides the base rate for specific member cohorts
	CohortRates map[string]int64 `gorm:"serializer:json" json:"cohort_rates"`

	DueDate   time.Time `json:"due_date"`
	GraceDays int       `gorm:"default:0" json:"grace_days"`

	LateFeeType      LateFeeType `gorm:"type:varchar(20);default:'flat'" json:"late_fee_type"`
	LateFeeFlatCents int64       `json:"late_fee_flat_cents"`
	LateFeePercent   float64     `json:"late_fee_percent"` // e.g. 0.05 for 5% of base

	IsCurrent bool `gorm:"default:false" json:"is_current"`

	// Relationships
	Chapter Chapter            `gorm:"foreignKey:ChapterID" json:"chapter,omitempty"`
	Records []MemberDuesRecord `gorm:"foreignKey:ConfigurationID" json:"records,omitempty"`
}

// RateForCohort returns the base rate for a member cohort, falling back to
// the configuration-wide base rate when no override exists
func (c DuesConfiguration) RateForCohort(cohort string) int64 {
	if rate, ok := c.CohortRates[cohort]; ok {
		return rate
	}
	return c.BaseRateCents
}

// LateFeeFor computes the configured late fee for a record's base amount
func (c DuesConfiguration) LateFeeFor(baseCents int64) int64 {
	if c.LateFeeType == LateFeeTypePercentage {
		return decimal.NewFromInt(baseCents).
			Mul(decimal.NewFromFloat(c.LateFeePercent)).
			Round(0).IntPart()
	}
	return c.LateFeeFlatCents
}

// GraceCutoff is the moment after which a record counts as past grace
func (c DuesConfiguration) GraceCutoff(dueDate time.Time) time.Time {
	return dueDate.AddDate(0, 0, c.GraceDays)
}
