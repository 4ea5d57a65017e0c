package models

import (
	"time"

	"gorm.io/gorm"
)

// MemberRole represents the role of a member within their chapter
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// Member represents a chapter member who can be billed for dues
type Member struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	ChapterID uint       `gorm:"index" json:"chapter_id"`
	Name      string     `gorm:"type:varchar(255)" json:"name"`
	Email     string     `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Cohort    string     `gorm:"type:varchar(100)" json:"cohort"` // e.g. "active", "new_member", "alumni"
	Role      MemberRole `gorm:"type:varchar(20);default:'member'" json:"role"`
	IsActive  bool       `gorm:"default:true" json:"is_active"`

	// Relationships
	Chapter     Chapter            `gorm:"foreignKey:ChapterID" json:"chapter,omitempty"`
	DuesRecords []MemberDuesRecord `gorm:"foreignKey:MemberID" json:"dues_records,omitempty"`
}

// IsAdmin reports whether the member can act on other members' records
func (m Member) IsAdmin() bool {
	return m.Role == MemberRoleAdmin
}
