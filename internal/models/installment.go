package models

import (
	"time"

	"gorm.io/gorm"
)

// InstallmentPlanStatus is the lifecycle of a plan
type InstallmentPlanStatus string

const (
	InstallmentPlanStatusActive    InstallmentPlanStatus = "active"
	InstallmentPlanStatusCompleted InstallmentPlanStatus = "completed"
	InstallmentPlanStatusCancelled InstallmentPlanStatus = "cancelled"
)

// InstallmentPaymentStatus is the lifecycle of one scheduled charge
type InstallmentPaymentStatus string

const (
	InstallmentPaymentStatusScheduled  InstallmentPaymentStatus = "scheduled"
	InstallmentPaymentStatusProcessing InstallmentPaymentStatus = "processing"
	InstallmentPaymentStatusPaid       InstallmentPaymentStatus = "paid"
	InstallmentPaymentStatusFailed     InstallmentPaymentStatus = "failed"
	InstallmentPaymentStatusCancelled  InstallmentPaymentStatus = "cancelled"
)

// InstallmentEligibility grants a member or a single record the right to
// split a balance into one of the allowed installment counts
type InstallmentEligibility struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Exactly one of MemberID / RecordID is set
	MemberID *uint `gorm:"index" json:"member_id,omitempty"`
	RecordID *uint `gorm:"index" json:"record_id,omitempty"`

	AllowedCounts    []int      `gorm:"serializer:json" json:"allowed_counts"`
	OverrideDeadline *time.Time `json:"override_deadline,omitempty"`
	GrantedBy        string     `gorm:"type:varchar(255)" json:"granted_by"`
}

// Allows reports whether n is a permitted installment count
func (e InstallmentEligibility) Allows(n int) bool {
	for _, allowed := range e.AllowedCounts {
		if allowed == n {
			return true
		}
	}
	return false
}

// InstallmentPlan splits a record's balance into scheduled charges. The sum
// of the owned InstallmentPayment amounts equals the balance at creation
// time, exactly.
type InstallmentPlan struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	RecordID        uint                  `gorm:"index" json:"record_id"`
	NumInstallments int                   `json:"num_installments"`
	Method          PaymentMethod         `gorm:"type:varchar(50)" json:"method"`
	NextPaymentDate *time.Time            `json:"next_payment_date,omitempty"`
	Status          InstallmentPlanStatus `gorm:"type:varchar(20);default:'active'" json:"status"`

	// Relationships
	Record   MemberDuesRecord     `gorm:"foreignKey:RecordID" json:"record,omitempty"`
	Payments []InstallmentPayment `gorm:"foreignKey:PlanID" json:"payments,omitempty"`
}

// InstallmentPayment is one charge within a plan, ordered by Sequence
type InstallmentPayment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	PlanID        uint                     `gorm:"index" json:"plan_id"`
	Sequence      int                      `json:"sequence"` // 1-based
	AmountCents   int64                    `json:"amount_cents"`
	ScheduledDate time.Time                `json:"scheduled_date"`
	Status        InstallmentPaymentStatus `gorm:"type:varchar(20);default:'scheduled'" json:"status"`

	// Relationships
	Plan InstallmentPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}
