package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead represents a company/contact an organization reaches out to. The
// fields below feed template variable substitution in the cadence engine.
type Lead struct {
	gorm.Model

	OrgID uint `gorm:"not null;index" json:"org_id"`

	// Company identity
	Name      string `gorm:"not null" json:"name"` // trade/display name as imported
	LegalName string `json:"legal_name"`           // registered legal name
	TaxID     string `gorm:"index" json:"tax_id"`
	SizeTier  string `json:"size_tier"` // micro, small, medium, large

	// Primary contact
	ContactName string `json:"contact_name"`
	Email       string `gorm:"index" json:"email"`
	Phone       string `json:"phone"`

	// Location
	City  string `json:"city"`
	State string `json:"state"`

	// Status
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`

	// Metadata
	Source      string     `json:"source"` // manual, csv, api
	LastContact *time.Time `json:"last_contact"`

	// Relations
	Enrollments  []CadenceEnrollment `gorm:"foreignKey:LeadID" json:"enrollments,omitempty"`
	Interactions []Interaction       `gorm:"foreignKey:LeadID" json:"interactions,omitempty"`
}
