package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/badoux/checkmail"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesflow/models"
)

// defaultBatchSize bounds how many due enrollments one invocation picks up.
const defaultBatchSize = 50

// ExecutionResult aggregates one batch run. Each processed enrollment lands
// in exactly one of sent/completed/skipped/failed.
type ExecutionResult struct {
	Processed int      `json:"processed"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Completed int      `json:"completed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// Scope restricts which enrollments a run may touch. A nil OrgID is the
// elevated (scheduler) credential and sees every tenant.
type Scope struct {
	OrgID *uint
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeCompleted
	outcomeSkipped
)

// Engine advances active enrollments through their cadence steps. It is
// stateless between runs; the natural retry mechanism is the next invocation
// picking still-due enrollments back up, guarded by the sent-interaction
// idempotency check.
type Engine struct {
	db           *gorm.DB
	logger       *logrus.Logger
	personalizer Personalizer          // optional
	dispatchers  map[string]Dispatcher // by channel
	batchSize    int
}

func New(db *gorm.DB, logger *logrus.Logger, personalizer Personalizer, dispatchers map[string]Dispatcher) *Engine {
	return &Engine{
		db:           db,
		logger:       logger,
		personalizer: personalizer,
		dispatchers:  dispatchers,
		batchSize:    defaultBatchSize,
	}
}

// Run loads up to batchSize due enrollments and processes them sequentially,
// each inside its own failure boundary. Only a failure to load the due set
// itself is returned as an error; per-enrollment failures are folded into
// the result.
func (e *Engine) Run(ctx context.Context, now time.Time, scope Scope) (ExecutionResult, error) {
	query := e.db.
		Where("status = ?", models.EnrollmentStatusActive).
		Where("next_step_due IS NULL OR next_step_due <= ?", now).
		Limit(e.batchSize)
	if scope.OrgID != nil {
		query = query.Where("org_id = ?", *scope.OrgID)
	}

	var due []models.CadenceEnrollment
	if err := query.Find(&due).Error; err != nil {
		return ExecutionResult{}, fmt.Errorf("loading due enrollments: %w", err)
	}

	var result ExecutionResult
	for i := range due {
		enrollment := &due[i]
		result.Processed++

		out, err := e.processSafely(ctx, now, enrollment)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("enrollment %d: %v", enrollment.ID, err))
			e.logger.WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"cadence_id":    enrollment.CadenceID,
				"lead_id":       enrollment.LeadID,
			}).WithError(err).Error("enrollment processing failed")
			sentry.CaptureException(err)
			continue
		}

		switch out {
		case outcomeCompleted:
			result.Completed++
		case outcomeSkipped:
			result.Skipped++
		default:
			result.Sent++
		}
	}

	return result, nil
}

// processSafely is the per-enrollment failure boundary: errors and panics
// stop this enrollment only, never the batch.
func (e *Engine) processSafely(ctx context.Context, now time.Time, enrollment *models.CadenceEnrollment) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.processEnrollment(ctx, now, enrollment)
}

func (e *Engine) processEnrollment(ctx context.Context, now time.Time, enrollment *models.CadenceEnrollment) (outcome, error) {
	var cadence models.Cadence
	if err := e.db.First(&cadence, enrollment.CadenceID).Error; err != nil {
		return 0, fmt.Errorf("loading cadence %d: %w", enrollment.CadenceID, err)
	}

	// Step resolution. No step at the current order is the completion
	// signal, not an error.
	var step models.CadenceStep
	err := e.db.Where("cadence_id = ? AND step_order = ?", cadence.ID, enrollment.CurrentStep).
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := e.complete(enrollment, now); err != nil {
			return 0, err
		}
		return outcomeCompleted, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolving step %d of cadence %d: %w", enrollment.CurrentStep, cadence.ID, err)
	}

	// Idempotency guard: a sent interaction for this triple means the step
	// was already processed. Leave the enrollment untouched.
	var existing int64
	if err := e.db.Model(&models.Interaction{}).
		Where("cadence_id = ? AND step_id = ? AND lead_id = ? AND type = ?",
			cadence.ID, step.ID, enrollment.LeadID, models.InteractionSent).
		Count(&existing).Error; err != nil {
		return 0, fmt.Errorf("idempotency check: %w", err)
	}
	if existing > 0 {
		return outcomeSkipped, nil
	}

	var lead models.Lead
	if err := e.db.First(&lead, enrollment.LeadID).Error; err != nil {
		return 0, fmt.Errorf("loading lead %d: %w", enrollment.LeadID, err)
	}

	subject, body, err := e.renderStep(&step, &lead)
	if err != nil {
		return 0, err
	}

	aiGenerated := false
	if step.AIPersonalization && body != "" && e.personalizer != nil {
		personalized, perr := e.personalizer.Personalize(ctx, step.Channel, body, &lead, enrollment.OrgID)
		if perr != nil {
			// Personalization failures never block the enrollment; fall back
			// to the template-rendered body.
			e.logger.WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"lead_id":       lead.ID,
				"channel":       step.Channel,
			}).WithError(perr).Warn("personalization failed, using template body")
		} else {
			body = personalized
			aiGenerated = true
		}
	}

	recipient, err := recipientAddress(step.Channel, &lead)
	if err != nil {
		// Missing contact info fails this enrollment before anything is
		// persisted; it stays at its current step and will fail again until
		// the lead data is fixed.
		return 0, err
	}

	// The interaction row is the idempotency marker. It is written before
	// the transport call and never rolled back on transport failure.
	interaction := models.Interaction{
		OrgID:       enrollment.OrgID,
		CadenceID:   cadence.ID,
		StepID:      step.ID,
		LeadID:      lead.ID,
		Type:        models.InteractionSent,
		Channel:     step.Channel,
		Subject:     subject,
		Body:        body,
		AIGenerated: aiGenerated,
	}
	if err := e.db.Create(&interaction).Error; err != nil {
		return 0, fmt.Errorf("recording interaction: %w", err)
	}

	e.dispatch(ctx, &cadence, &step, &interaction, OutboundMessage{
		To:       recipient,
		Subject:  subject,
		HTMLBody: body,
	})

	return e.advance(enrollment, now)
}

// renderStep loads the step's template and substitutes the lead's variables.
// A step pointing at nothing sendable is a deterministic authoring error.
func (e *Engine) renderStep(step *models.CadenceStep, lead *models.Lead) (string, string, error) {
	if step.TemplateID == nil {
		return "", "", fmt.Errorf("step %d has no template", step.StepOrder)
	}
	var template models.MessageTemplate
	if err := e.db.First(&template, *step.TemplateID).Error; err != nil {
		return "", "", fmt.Errorf("loading template %d for step %d: %w", *step.TemplateID, step.StepOrder, err)
	}
	variables := LeadVariables(lead)
	return Render(template.Subject, variables), Render(template.Body, variables), nil
}

// dispatch hands the message to the channel transport. All failures here are
// non-fatal for the enrollment: the attempt is already recorded and the
// enrollment still advances.
func (e *Engine) dispatch(ctx context.Context, cadence *models.Cadence, step *models.CadenceStep, interaction *models.Interaction, msg OutboundMessage) {
	log := e.logger.WithFields(logrus.Fields{
		"cadence_id":     cadence.ID,
		"step_order":     step.StepOrder,
		"lead_id":        interaction.LeadID,
		"channel":        step.Channel,
		"interaction_id": interaction.ID,
	})

	if cadence.CreatedBy == 0 {
		log.Warn("cadence has no creator, skipping send")
		return
	}

	dispatcher, ok := e.dispatchers[step.Channel]
	if !ok {
		log.Errorf("no dispatcher registered for channel %q", step.Channel)
		return
	}

	externalID, err := dispatcher.Send(ctx, cadence.CreatedBy, cadence.OrgID, msg, interaction.ID)
	if err != nil {
		log.WithError(err).Error("transport send failed")
		sentry.CaptureException(err)
		return
	}

	if externalID != "" {
		if err := e.db.Model(interaction).Update("external_id", externalID).Error; err != nil {
			log.WithError(err).Error("failed to record transport message id")
		}
	}
}

// advance moves the enrollment to the next step, or completes it when the
// just-processed step was the last one. CurrentStep only ever increases.
func (e *Engine) advance(enrollment *models.CadenceEnrollment, now time.Time) (outcome, error) {
	var next models.CadenceStep
	err := e.db.Where("cadence_id = ? AND step_order = ?", enrollment.CadenceID, enrollment.CurrentStep+1).
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := e.complete(enrollment, now); err != nil {
			return 0, err
		}
		return outcomeCompleted, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolving next step: %w", err)
	}

	due := now.Add(next.Delay())
	if err := e.db.Model(enrollment).Updates(map[string]interface{}{
		"current_step":  enrollment.CurrentStep + 1,
		"next_step_due": due,
	}).Error; err != nil {
		return 0, fmt.Errorf("advancing enrollment: %w", err)
	}
	return outcomeSent, nil
}

func (e *Engine) complete(enrollment *models.CadenceEnrollment, now time.Time) error {
	if err := e.db.Model(enrollment).Updates(map[string]interface{}{
		"status":        models.EnrollmentStatusCompleted,
		"completed_at":  now,
		"next_step_due": gorm.Expr("NULL"),
	}).Error; err != nil {
		return fmt.Errorf("completing enrollment: %w", err)
	}
	e.logger.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"cadence_id":    enrollment.CadenceID,
	}).Info("enrollment completed")
	return nil
}

// recipientAddress returns the lead's address for the channel, or an error
// when the lead has no usable one.
func recipientAddress(channel string, lead *models.Lead) (string, error) {
	switch channel {
	case models.ChannelEmail:
		if lead.Email == "" {
			return "", fmt.Errorf("lead %d (%s) has no email address", lead.ID, lead.Name)
		}
		if err := checkmail.ValidateFormat(lead.Email); err != nil {
			return "", fmt.Errorf("lead %d (%s) has an invalid email address %q: %v", lead.ID, lead.Name, lead.Email, err)
		}
		return lead.Email, nil
	case models.ChannelWhatsApp:
		if lead.Phone == "" {
			return "", fmt.Errorf("lead %d (%s) has no phone number", lead.ID, lead.Name)
		}
		return lead.Phone, nil
	default:
		return "", fmt.Errorf("unsupported channel %q", channel)
	}
}
