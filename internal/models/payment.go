package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentMethod identifies how a payment was (or will be) collected
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash" // manually recorded, no processor involved
)

// Payment is an immutable record of a settled amount against a dues record.
// ReferenceKey is unique so the same settlement can never be applied twice.
type Payment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	RecordID    uint          `gorm:"index" json:"record_id"`
	AmountCents int64         `json:"amount_cents"`
	Method      PaymentMethod `gorm:"type:varchar(50)" json:"method"`
	PaidAt      time.Time     `json:"paid_at"`

	ReferenceKey string  `gorm:"type:varchar(100);uniqueIndex" json:"reference_key"`
	ProcessorID  *string `gorm:"type:varchar(100)" json:"processor_id,omitempty"`
	Note         string  `gorm:"type:text" json:"note,omitempty"`

	// Relationships
	Record MemberDuesRecord `gorm:"foreignKey:RecordID" json:"record,omitempty"`
}
