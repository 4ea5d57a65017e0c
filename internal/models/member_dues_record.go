package models

import (
	"time"

	"gorm.io/gorm"
)

// DuesStatus represents the persisted payment status of a dues record.
// Overdue is a derived classification, never stored (see IsOverdue).
type DuesStatus string

const (
	DuesStatusPending DuesStatus = "pending"
	DuesStatusPartial DuesStatus = "partial"
	DuesStatusPaid    DuesStatus = "paid"
	DuesStatusWaived  DuesStatus = "waived"
)

// MemberDuesRecord is the ledger row for one member under one configuration.
// TotalAmountCents and BalanceCents are derived; call Recompute after every
// mutation of the component amounts or AmountPaidCents.
type MemberDuesRecord struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	MemberID        uint `gorm:"index;index:idx_dues_member_config,unique,where:deleted_at IS NULL" json:"member_id"`
	ConfigurationID uint `gorm:"index;index:idx_dues_member_config,unique,where:deleted_at IS NULL" json:"configuration_id"`

	BaseAmountCents int64 `json:"base_amount_cents"`
	LateFeeCents    int64 `json:"late_fee_cents"`
	AdjustmentCents int64 `json:"adjustment_cents"` // manual corrections, may be negative

	TotalAmountCents int64 `json:"total_amount_cents"` // derived
	AmountPaidCents  int64 `json:"amount_paid_cents"`
	BalanceCents     int64 `json:"balance_cents"` // derived

	Status  DuesStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	DueDate time.Time  `json:"due_date"`

	FlexiblePlanDeadline *time.Time `json:"flexible_plan_deadline,omitempty"`
	WaiveNote            string     `gorm:"type:text" json:"waive_note,omitempty"`

	// Stamp preventing the late-fee sweep from charging the same overdue
	// window twice. Cleared when a new configuration due date applies.
	LateFeeAppliedAt *time.Time `json:"late_fee_applied_at,omitempty"`

	// Relationships
	Member        Member            `gorm:"foreignKey:MemberID" json:"member,omitempty"`
	Configuration DuesConfiguration `gorm:"foreignKey:ConfigurationID" json:"configuration,omitempty"`
	Payments      []Payment         `gorm:"foreignKey:RecordID" json:"payments,omitempty"`
	Intents       []PaymentIntent   `gorm:"foreignKey:RecordID" json:"intents,omitempty"`
}

// Recompute re-derives total, balance and status from the component
// amounts. Waived is sticky: balance is forced to zero and the status only
// leaves waived through an explicit un-waive.
func (r *MemberDuesRecord) Recompute() {
	r.TotalAmountCents = r.BaseAmountCents + r.LateFeeCents + r.AdjustmentCents

	if r.Status == DuesStatusWaived {
		r.BalanceCents = 0
		return
	}

	balance := r.TotalAmountCents - r.AmountPaidCents
	if balance < 0 {
		balance = 0
	}
	r.BalanceCents = balance

	switch {
	case balance <= 0:
		r.Status = DuesStatusPaid
	case r.AmountPaidCents > 0:
		r.Status = DuesStatusPartial
	default:
		r.Status = DuesStatusPending
	}
}

// IsOverdue reports whether the record is past its due date and still owed.
// It never overrides waived or paid.
func (r MemberDuesRecord) IsOverdue(now time.Time) bool {
	if r.Status == DuesStatusPaid || r.Status == DuesStatusWaived {
		return false
	}
	return now.After(r.DueDate)
}

// DaysOverdue returns whole days past the due date, zero when not overdue
func (r MemberDuesRecord) DaysOverdue(now time.Time) int {
	if !r.IsOverdue(now) {
		return 0
	}
	return int(now.Sub(r.DueDate).Hours() / 24)
}
