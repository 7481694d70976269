package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization is the tenant root. Every piece of customer data carries an
// OrgID and all queries issued on behalf of a user are scoped to it.
type Organization struct {
	gorm.Model

	Name     string `gorm:"not null" json:"name"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`
	PlanName string `gorm:"default:'free'" json:"plan_name"`

	// Relations
	Users []User `gorm:"foreignKey:OrgID" json:"users,omitempty"`
}

// User represents a member of an organization
type User struct {
	gorm.Model

	OrgID uint `gorm:"not null;index" json:"org_id"`

	Email string  `gorm:"uniqueIndex;not null" json:"email"`
	Name  *string `json:"name,omitempty"`
	Role  string  `gorm:"default:'member'" json:"role"` // member, admin

	IsActive bool   `gorm:"default:true" json:"is_active"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`

	// Relations
	Organization Organization `gorm:"foreignKey:OrgID" json:"-"`
	Senders      []Sender     `gorm:"foreignKey:UserID" json:"senders,omitempty"`
	Cadences     []Cadence    `gorm:"foreignKey:CreatedBy" json:"cadences,omitempty"`
}

// Sender holds the mailbox credentials used to deliver cadence email for a
// user. Outbound mail for a cadence goes through the cadence creator's
// sender; the reply worker polls its IMAP inbox.
type Sender struct {
	gorm.Model

	UserID uint `gorm:"not null;index" json:"user_id"`
	OrgID  uint `gorm:"not null;index" json:"org_id"`

	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`

	// SMTP configuration
	SMTPHost     string `gorm:"not null" json:"smtp_host"`
	SMTPPort     int    `gorm:"not null" json:"smtp_port"`
	SMTPUsername string `gorm:"not null" json:"smtp_username"`
	SMTPPassword string `gorm:"not null" json:"-"` // Encrypted in application layer

	// IMAP configuration (reply detection)
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"`
	IMAPMailbox  string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// Status
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastTestedAt *time.Time `json:"last_tested_at"`
	LastError    *string    `json:"last_error"`

	// Relations
	User User `json:"-"`
}
