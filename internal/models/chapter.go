package models

import (
	"time"

	"gorm.io/gorm"
)

// Chapter represents a single chapter organization whose member dues
// are billed through this system
type Chapter struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name            string  `gorm:"type:varchar(255)" json:"name"`
	StripeAccountID *string `gorm:"type:varchar(100)" json:"stripe_account_id,omitempty"` // connected account receiving transfers

	// Relationships
	Members        []Member            `gorm:"foreignKey:ChapterID" json:"members,omitempty"`
	Configurations []DuesConfiguration `gorm:"foreignKey:ChapterID" json:"configurations,omitempty"`
}
