package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentIntentStatus is the lifecycle of one external authorization attempt
type PaymentIntentStatus string

const (
	PaymentIntentStatusPending    PaymentIntentStatus = "pending"
	PaymentIntentStatusProcessing PaymentIntentStatus = "processing"
	PaymentIntentStatusSucceeded  PaymentIntentStatus = "succeeded"
	PaymentIntentStatusFailed     PaymentIntentStatus = "failed"
	PaymentIntentStatusCanceled   PaymentIntentStatus = "canceled"
)

// IsActive reports whether the intent occupies the record's single
// in-flight authorization slot
func (s PaymentIntentStatus) IsActive() bool {
	return s == PaymentIntentStatusPending || s == PaymentIntentStatusProcessing
}

// PaymentIntent tracks one authorization attempt at the external processor.
// The partial unique index enforces at most one pending/processing intent
// per dues record, which closes the check-then-create race between
// concurrent charge requests.
type PaymentIntent struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	RecordID             uint  `gorm:"index;index:idx_payment_intents_one_active,unique,where:status = 'pending' OR status = 'processing'" json:"record_id"`
	InstallmentPaymentID *uint `gorm:"index" json:"installment_payment_id,omitempty"`

	// DuesAmountCents is the portion of the charge that settles dues; the
	// remaining columns carry the fee split computed at creation time.
	DuesAmountCents     int64 `json:"dues_amount_cents"`
	ChargeAmountCents   int64 `json:"charge_amount_cents"`
	ProcessorFeeCents   int64 `json:"processor_fee_cents"`
	PlatformFeeCents    int64 `json:"platform_fee_cents"`
	TransferAmountCents int64 `json:"transfer_amount_cents"`

	Method         PaymentMethod       `gorm:"type:varchar(50)" json:"method"`
	Status         PaymentIntentStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	ProcessorID    string              `gorm:"type:varchar(100);index" json:"processor_id"`
	ClientHandle   string              `gorm:"type:varchar(255)" json:"client_handle"` // client secret / redirect handle for the payer
	IdempotencyKey string              `gorm:"type:varchar(100)" json:"idempotency_key"`
	FailureReason  string              `gorm:"type:text" json:"failure_reason,omitempty"`

	// Relationships
	Record MemberDuesRecord `gorm:"foreignKey:RecordID" json:"record,omitempty"`
}
