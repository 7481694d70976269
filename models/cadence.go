package models

import (
	"time"

	"gorm.io/gorm"
)

// Cadence statuses
const (
	CadenceStatusDraft    = "draft"
	CadenceStatusActive   = "active"
	CadenceStatusPaused   = "paused"
	CadenceStatusArchived = "archived"
)

// Step channels
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// Enrollment statuses. Completed, replied, bounced and unsubscribed are
// terminal: the engine never touches an enrollment again once it reaches one.
const (
	EnrollmentStatusActive       = "active"
	EnrollmentStatusPaused       = "paused"
	EnrollmentStatusCompleted    = "completed"
	EnrollmentStatusReplied      = "replied"
	EnrollmentStatusBounced      = "bounced"
	EnrollmentStatusUnsubscribed = "unsubscribed"
)

// Interaction types
const (
	InteractionSent             = "sent"
	InteractionDelivered        = "delivered"
	InteractionOpened           = "opened"
	InteractionClicked          = "clicked"
	InteractionReplied          = "replied"
	InteractionBounced          = "bounced"
	InteractionFailed           = "failed"
	InteractionMeetingScheduled = "meeting_scheduled"
)

// Cadence is a multi-step, multi-channel outreach sequence owned by an
// organization. Only active cadences accept new enrollments; activation
// requires at least two steps.
type Cadence struct {
	gorm.Model

	OrgID     uint `gorm:"not null;index" json:"org_id"`
	CreatedBy uint `gorm:"index" json:"created_by"` // sending identity is resolved from this user

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused, archived
	StepCount   int    `gorm:"default:0" json:"step_count"`

	// Relations
	Steps       []CadenceStep       `gorm:"foreignKey:CadenceID" json:"steps,omitempty"`
	Enrollments []CadenceEnrollment `gorm:"foreignKey:CadenceID" json:"enrollments,omitempty"`
}

// CadenceStep is one ordered stage of a cadence. StepOrder is 1-based and
// contiguous within a cadence; the engine treats "no step at the current
// order" as the completion signal. DelayDays/DelayHours apply before the
// step fires, relative to enrollment or the previous step.
type CadenceStep struct {
	gorm.Model

	CadenceID uint `gorm:"not null;index" json:"cadence_id"`

	StepOrder  int    `gorm:"not null;index" json:"step_order"`
	Channel    string `gorm:"not null" json:"channel"` // email, whatsapp
	TemplateID *uint  `json:"template_id,omitempty"`

	DelayDays  int `gorm:"default:0" json:"delay_days"`
	DelayHours int `gorm:"default:0" json:"delay_hours"`

	AIPersonalization bool `gorm:"column:ai_personalization;default:false" json:"ai_personalization"`

	// Relations
	Cadence  Cadence          `json:"-"`
	Template *MessageTemplate `json:"-"`
}

// Delay returns the wait applied before this step fires.
func (s *CadenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

// CadenceEnrollment binds one lead to one cadence and tracks its progress.
// CurrentStep is a 1-based pointer into the cadence's steps; it only ever
// increases. NextStepDue nil means immediately due.
type CadenceEnrollment struct {
	gorm.Model

	OrgID     uint `gorm:"not null;index" json:"org_id"`
	CadenceID uint `gorm:"not null;index" json:"cadence_id"`
	LeadID    uint `gorm:"not null;index" json:"lead_id"`

	Status      string     `gorm:"default:'active';index" json:"status"`
	CurrentStep int        `gorm:"default:1" json:"current_step"`
	NextStepDue *time.Time `gorm:"index" json:"next_step_due"`

	EnrolledAt  time.Time  `json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Cadence Cadence `json:"-"`
	Lead    Lead    `json:"-"`
}

// Interaction is the append-only record of one delivery attempt or
// engagement event for a (lead, cadence, step) triple. A sent interaction
// doubles as the idempotency marker: its existence means the step was
// already processed for that lead and must not be resent.
type Interaction struct {
	gorm.Model

	OrgID     uint `gorm:"not null;index" json:"org_id"`
	CadenceID uint `gorm:"not null;index" json:"cadence_id"`
	StepID    uint `gorm:"not null;index" json:"step_id"`
	LeadID    uint `gorm:"not null;index" json:"lead_id"`

	Type    string `gorm:"not null;index" json:"type"` // sent, delivered, opened, ...
	Channel string `gorm:"not null" json:"channel"`

	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	ExternalID  string `gorm:"index" json:"external_id"` // transport-assigned message id
	AIGenerated bool   `gorm:"default:false" json:"ai_generated"`

	// Relations
	Cadence Cadence     `json:"-"`
	Step    CadenceStep `json:"-"`
	Lead    Lead        `json:"-"`
}
