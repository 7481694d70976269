package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"salesflow/config"
	"salesflow/models"
	"salesflow/utils"
)

// stubDispatcher records sends and can be told to fail.
type stubDispatcher struct {
	sent []OutboundMessage
	err  error
}

func (d *stubDispatcher) Send(_ context.Context, _, _ uint, msg OutboundMessage, _ uint) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.sent = append(d.sent, msg)
	return fmt.Sprintf("ext-%d", len(d.sent)), nil
}

// stubPersonalizer returns a fixed rewrite or a fixed error.
type stubPersonalizer struct {
	output string
	err    error
}

func (p *stubPersonalizer) Personalize(_ context.Context, _ string, _ string, _ *models.Lead, _ uint) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.output, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))
	return db
}

func newTestEngine(db *gorm.DB, personalizer Personalizer, dispatchers map[string]Dispatcher) *Engine {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(db, log, personalizer, dispatchers)
}

type fixture struct {
	db       *gorm.DB
	org      models.Organization
	user     models.User
	template models.MessageTemplate
}

func newFixture(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	f := &fixture{db: db}

	f.org = models.Organization{Name: "Test Org"}
	require.NoError(t, db.Create(&f.org).Error)

	f.user = models.User{OrgID: f.org.ID, Email: fmt.Sprintf("owner-%d@test.local", f.org.ID)}
	require.NoError(t, db.Create(&f.user).Error)

	f.template = models.MessageTemplate{
		OrgID:     f.org.ID,
		CreatedBy: f.user.ID,
		Name:      "Intro",
		Subject:   "Oi {{first_name}}",
		Body:      "Falando com a {{name}}?",
	}
	require.NoError(t, db.Create(&f.template).Error)
	return f
}

func (f *fixture) createLead(t *testing.T, email string) models.Lead {
	t.Helper()
	lead := models.Lead{
		OrgID:       f.org.ID,
		Name:        "ACME COMERCIO LTDA",
		ContactName: "Maria Souza",
		Email:       email,
		Phone:       "+5511999990000",
	}
	require.NoError(t, f.db.Create(&lead).Error)
	return lead
}

// createCadence builds an active cadence whose steps all use the fixture
// template. Each delay is applied before the step at the same index fires.
func (f *fixture) createCadence(t *testing.T, delays ...time.Duration) (models.Cadence, []models.CadenceStep) {
	t.Helper()
	cadence := models.Cadence{
		OrgID:     f.org.ID,
		CreatedBy: f.user.ID,
		Name:      "Outreach",
		Status:    models.CadenceStatusActive,
		StepCount: len(delays),
	}
	require.NoError(t, f.db.Create(&cadence).Error)

	steps := make([]models.CadenceStep, 0, len(delays))
	for i, delay := range delays {
		step := models.CadenceStep{
			CadenceID:  cadence.ID,
			StepOrder:  i + 1,
			Channel:    models.ChannelEmail,
			TemplateID: &f.template.ID,
			DelayHours: int(delay / time.Hour),
		}
		require.NoError(t, f.db.Create(&step).Error)
		steps = append(steps, step)
	}
	return cadence, steps
}

func (f *fixture) enroll(t *testing.T, cadence models.Cadence, lead models.Lead, due *time.Time) models.CadenceEnrollment {
	t.Helper()
	enrollment := models.CadenceEnrollment{
		OrgID:       f.org.ID,
		CadenceID:   cadence.ID,
		LeadID:      lead.ID,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: 1,
		NextStepDue: due,
		EnrolledAt:  time.Now(),
	}
	require.NoError(t, f.db.Create(&enrollment).Error)
	return enrollment
}

func reload[T any](t *testing.T, db *gorm.DB, id uint) T {
	t.Helper()
	var v T
	require.NoError(t, db.First(&v, id).Error)
	return v
}

func TestRunSendsStepAndAdvancesEnrollment(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, steps := f.createCadence(t, 0, 48*time.Hour)
	lead := f.createLead(t, "maria@acme.com")
	enrollment := f.enroll(t, cadence, lead, nil)

	dispatcher := &stubDispatcher{}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	now := time.Now()
	result, err := eng.Run(context.Background(), now, Scope{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Sent)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Errors)

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, "maria@acme.com", dispatcher.sent[0].To)
	assert.Equal(t, "Oi Maria", dispatcher.sent[0].Subject)
	assert.Equal(t, "Falando com a Acme Comercio?", dispatcher.sent[0].HTMLBody)

	updated := reload[models.CadenceEnrollment](t, db, enrollment.ID)
	assert.Equal(t, 2, updated.CurrentStep)
	require.NotNil(t, updated.NextStepDue)
	assert.WithinDuration(t, now.Add(48*time.Hour), *updated.NextStepDue, time.Second)

	var interaction models.Interaction
	require.NoError(t, db.Where("step_id = ?", steps[0].ID).First(&interaction).Error)
	assert.Equal(t, models.InteractionSent, interaction.Type)
	assert.Equal(t, "ext-1", interaction.ExternalID)
	assert.False(t, interaction.AIGenerated)
}

func TestRunCompletesEnrollmentPastLastStep(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, _ := f.createCadence(t, 0)
	lead := f.createLead(t, "maria@acme.com")

	enrollment := f.enroll(t, cadence, lead, nil)
	require.NoError(t, db.Model(&enrollment).Update("current_step", 2).Error)

	eng := newTestEngine(db, nil, nil)
	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Completed)
	assert.Zero(t, result.Sent)

	updated := reload[models.CadenceEnrollment](t, db, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
	assert.Nil(t, updated.NextStepDue)
}

func TestRunSkipsStepWithExistingSentInteraction(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, steps := f.createCadence(t, 0, 0)
	lead := f.createLead(t, "maria@acme.com")
	enrollment := f.enroll(t, cadence, lead, nil)

	require.NoError(t, db.Create(&models.Interaction{
		OrgID:     f.org.ID,
		CadenceID: cadence.ID,
		StepID:    steps[0].ID,
		LeadID:    lead.ID,
		Type:      models.InteractionSent,
		Channel:   models.ChannelEmail,
	}).Error)

	dispatcher := &stubDispatcher{}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Sent)
	assert.Empty(t, dispatcher.sent)

	// The skipped enrollment is left untouched.
	updated := reload[models.CadenceEnrollment](t, db, enrollment.ID)
	assert.Equal(t, 1, updated.CurrentStep)

	var count int64
	db.Model(&models.Interaction{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestRunIsolatesFailuresWithinBatch(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	good, _ := f.createCadence(t, 0, 0)

	// Cadence whose only step has no template; processing it always fails.
	broken := models.Cadence{
		OrgID:     f.org.ID,
		CreatedBy: f.user.ID,
		Name:      "Broken",
		Status:    models.CadenceStatusActive,
		StepCount: 1,
	}
	require.NoError(t, db.Create(&broken).Error)
	require.NoError(t, db.Create(&models.CadenceStep{
		CadenceID: broken.ID,
		StepOrder: 1,
		Channel:   models.ChannelEmail,
	}).Error)

	for i := 0; i < 9; i++ {
		lead := f.createLead(t, fmt.Sprintf("lead%d@acme.com", i))
		f.enroll(t, good, lead, nil)
	}
	brokenLead := f.createLead(t, "broken@acme.com")
	brokenEnrollment := f.enroll(t, broken, brokenLead, nil)

	dispatcher := &stubDispatcher{}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)

	assert.Equal(t, 10, result.Processed)
	assert.Equal(t, 9, result.Sent)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], fmt.Sprintf("enrollment %d", brokenEnrollment.ID))

	// The failed enrollment is neither advanced nor recorded.
	updated := reload[models.CadenceEnrollment](t, db, brokenEnrollment.ID)
	assert.Equal(t, 1, updated.CurrentStep)
	assert.Equal(t, models.EnrollmentStatusActive, updated.Status)

	var count int64
	db.Model(&models.Interaction{}).Where("lead_id = ?", brokenLead.ID).Count(&count)
	assert.Zero(t, count)
}

func TestRunTwoStepCadenceLifecycle(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, _ := f.createCadence(t, 0, 48*time.Hour)
	lead := f.createLead(t, "maria@acme.com")
	enrollment := f.enroll(t, cadence, lead, nil)

	dispatcher := &stubDispatcher{}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelEmail: dispatcher})
	ctx := context.Background()
	now := time.Now()

	// First run delivers step 1 and schedules step 2 two days out.
	result, err := eng.Run(ctx, now, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	// A second run at the same instant finds nothing due.
	result, err = eng.Run(ctx, now, Scope{})
	require.NoError(t, err)
	assert.Zero(t, result.Processed)

	// Two days later step 2 goes out and, having no successor, the
	// enrollment completes in the same run.
	result, err = eng.Run(ctx, now.Add(48*time.Hour), Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Completed)

	updated := reload[models.CadenceEnrollment](t, db, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, updated.Status)
	assert.Len(t, dispatcher.sent, 2)

	var count int64
	db.Model(&models.Interaction{}).Where("lead_id = ?", lead.ID).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestRunFailsEnrollmentWhenLeadHasNoEmail(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, _ := f.createCadence(t, 0, 0)
	lead := f.createLead(t, "")
	enrollment := f.enroll(t, cadence, lead, nil)

	dispatcher := &stubDispatcher{}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no email address")
	assert.Empty(t, dispatcher.sent)

	// Nothing persisted, nothing advanced: the enrollment fails again on the
	// next run until the lead is fixed.
	updated := reload[models.CadenceEnrollment](t, db, enrollment.ID)
	assert.Equal(t, 1, updated.CurrentStep)
	assert.Equal(t, models.EnrollmentStatusActive, updated.Status)

	var count int64
	db.Model(&models.Interaction{}).Count(&count)
	assert.Zero(t, count)
}

func TestRunFailsEnrollmentWhenEmailIsMalformed(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, _ := f.createCadence(t, 0)
	lead := f.createLead(t, "not-an-address")
	f.enroll(t, cadence, lead, nil)

	eng := newTestEngine(db, nil, nil)
	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "invalid email address")
}

func TestRunPersonalizationRewritesBody(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, steps := f.createCadence(t, 0, 0)
	require.NoError(t, db.Model(&steps[0]).Update("ai_personalization", true).Error)
	lead := f.createLead(t, "maria@acme.com")
	f.enroll(t, cadence, lead, nil)

	dispatcher := &stubDispatcher{}
	personalizer := &stubPersonalizer{output: "personalized copy"}
	eng := newTestEngine(db, personalizer, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, "personalized copy", dispatcher.sent[0].HTMLBody)

	var interaction models.Interaction
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&interaction).Error)
	assert.True(t, interaction.AIGenerated)
	assert.Equal(t, "personalized copy", interaction.Body)
}

func TestRunPersonalizationFailureFallsBackToTemplate(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, steps := f.createCadence(t, 0, 0)
	require.NoError(t, db.Model(&steps[0]).Update("ai_personalization", true).Error)
	lead := f.createLead(t, "maria@acme.com")
	f.enroll(t, cadence, lead, nil)

	dispatcher := &stubDispatcher{}
	personalizer := &stubPersonalizer{err: errors.New("model unavailable")}
	eng := newTestEngine(db, personalizer, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)

	// Personalization failures degrade to the rendered template, they never
	// fail the enrollment.
	assert.Equal(t, 1, result.Sent)
	assert.Zero(t, result.Failed)

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, "Falando com a Acme Comercio?", dispatcher.sent[0].HTMLBody)

	var interaction models.Interaction
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&interaction).Error)
	assert.False(t, interaction.AIGenerated)
}

func TestRunTransportFailureStillAdvances(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, _ := f.createCadence(t, 0, 0)
	lead := f.createLead(t, "maria@acme.com")
	enrollment := f.enroll(t, cadence, lead, nil)

	dispatcher := &stubDispatcher{err: errors.New("smtp connection refused")}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)

	// The attempt is recorded and the enrollment moves on; the step is never
	// retried.
	assert.Equal(t, 1, result.Sent)
	assert.Zero(t, result.Failed)

	updated := reload[models.CadenceEnrollment](t, db, enrollment.ID)
	assert.Equal(t, 2, updated.CurrentStep)

	var interaction models.Interaction
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&interaction).Error)
	assert.Equal(t, models.InteractionSent, interaction.Type)
	assert.Empty(t, interaction.ExternalID)
}

func TestRunWithoutCreatorSkipsSendButAdvances(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, _ := f.createCadence(t, 0, 0)
	require.NoError(t, db.Model(&cadence).Update("created_by", 0).Error)
	lead := f.createLead(t, "maria@acme.com")
	enrollment := f.enroll(t, cadence, lead, nil)

	dispatcher := &stubDispatcher{}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Empty(t, dispatcher.sent)

	updated := reload[models.CadenceEnrollment](t, db, enrollment.ID)
	assert.Equal(t, 2, updated.CurrentStep)
}

func TestRunScopeRestrictsToOrg(t *testing.T) {
	db := openTestDB(t)
	f1 := newFixture(t, db)
	f2 := newFixture(t, db)

	// Step 2 is a day out so neither enrollment comes due again mid-test.
	c1, _ := f1.createCadence(t, 0, 24*time.Hour)
	c2, _ := f2.createCadence(t, 0, 24*time.Hour)
	l1 := f1.createLead(t, "one@acme.com")
	l2 := f2.createLead(t, "two@acme.com")
	e1 := f1.enroll(t, c1, l1, nil)
	e2 := f2.enroll(t, c2, l2, nil)

	dispatcher := &stubDispatcher{}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelEmail: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{OrgID: &f1.org.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	assert.Equal(t, 2, reload[models.CadenceEnrollment](t, db, e1.ID).CurrentStep)
	assert.Equal(t, 1, reload[models.CadenceEnrollment](t, db, e2.ID).CurrentStep)

	// The elevated scope sees the remaining tenant.
	result, err = eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 2, reload[models.CadenceEnrollment](t, db, e2.ID).CurrentStep)
}

func TestRunWhatsAppStepUsesPhone(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence := models.Cadence{
		OrgID:     f.org.ID,
		CreatedBy: f.user.ID,
		Name:      "WA",
		Status:    models.CadenceStatusActive,
		StepCount: 1,
	}
	require.NoError(t, db.Create(&cadence).Error)
	require.NoError(t, db.Create(&models.CadenceStep{
		CadenceID:  cadence.ID,
		StepOrder:  1,
		Channel:    models.ChannelWhatsApp,
		TemplateID: &f.template.ID,
	}).Error)
	lead := f.createLead(t, "maria@acme.com")
	f.enroll(t, cadence, lead, nil)

	dispatcher := &stubDispatcher{}
	eng := newTestEngine(db, nil, map[string]Dispatcher{models.ChannelWhatsApp: dispatcher})

	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, "+5511999990000", dispatcher.sent[0].To)
}

func TestRunHonorsFutureDueDates(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, _ := f.createCadence(t, 0, 0)
	lead := f.createLead(t, "maria@acme.com")
	f.enroll(t, cadence, lead, utils.Pointer(time.Now().Add(time.Hour)))

	eng := newTestEngine(db, nil, nil)
	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestRunIgnoresInactiveEnrollments(t *testing.T) {
	db := openTestDB(t)
	f := newFixture(t, db)
	cadence, _ := f.createCadence(t, 0, 0)

	for _, status := range []string{
		models.EnrollmentStatusPaused,
		models.EnrollmentStatusCompleted,
		models.EnrollmentStatusReplied,
		models.EnrollmentStatusUnsubscribed,
	} {
		lead := f.createLead(t, fmt.Sprintf("%s@acme.com", status))
		enrollment := f.enroll(t, cadence, lead, nil)
		require.NoError(t, db.Model(&enrollment).Update("status", status).Error)
	}

	eng := newTestEngine(db, nil, nil)
	result, err := eng.Run(context.Background(), time.Now(), Scope{})
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}
