package models

import "gorm.io/gorm"

// MessageTemplate is a named subject/body pair used by cadence steps.
// Variables holds the {{placeholder}} names referenced by the content,
// extracted at save time. System templates are read-only.
type MessageTemplate struct {
	gorm.Model

	OrgID     uint `gorm:"index" json:"org_id"`
	CreatedBy uint `gorm:"index" json:"created_by"`

	Name    string `gorm:"not null" json:"name"`
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	Variables []string `gorm:"type:jsonb;serializer:json" json:"variables"`

	Category string `json:"category"`
	IsSystem bool   `gorm:"default:false" json:"is_system"`
}
