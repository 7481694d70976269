package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesflow/models"
	"salesflow/utils"
)

type EnrollmentController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewEnrollmentController(db *gorm.DB, logger *logrus.Logger) *EnrollmentController {
	return &EnrollmentController{DB: db, Logger: logger}
}

// EnrollLead binds a lead to an active cadence at step 1. The first step's
// delay (usually zero) sets the initial due time.
func (ec *EnrollmentController) EnrollLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		LeadID uint `json:"lead_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var cadence models.Cadence
	if err := ec.DB.Where("id = ? AND org_id = ?", c.Params("id"), user.OrgID).
		First(&cadence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Cadence not found", nil)
	}
	if cadence.Status != models.CadenceStatusActive {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Only active cadences accept enrollments", nil)
	}

	var lead models.Lead
	if err := ec.DB.Where("id = ? AND org_id = ?", input.LeadID, user.OrgID).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	if lead.IsUnsubscribed || lead.IsBounced {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Lead has opted out or bounced", nil)
	}

	var existing int64
	ec.DB.Model(&models.CadenceEnrollment{}).
		Where("cadence_id = ? AND lead_id = ? AND status IN ?",
			cadence.ID, lead.ID, []string{models.EnrollmentStatusActive, models.EnrollmentStatusPaused}).
		Count(&existing)
	if existing > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is already enrolled in this cadence", nil)
	}

	now := time.Now()
	enrollment := models.CadenceEnrollment{
		OrgID:       user.OrgID,
		CadenceID:   cadence.ID,
		LeadID:      lead.ID,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: 1,
		EnrolledAt:  now,
	}

	var first models.CadenceStep
	if err := ec.DB.Where("cadence_id = ? AND step_order = ?", cadence.ID, 1).
		First(&first).Error; err == nil {
		enrollment.NextStepDue = utils.Pointer(now.Add(first.Delay()))
	}

	if err := ec.DB.Create(&enrollment).Error; err != nil {
		ec.Logger.WithError(err).Error("failed to enroll lead")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll lead", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

func (ec *EnrollmentController) ListEnrollments(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var enrollments []models.CadenceEnrollment
	if err := ec.DB.Where("cadence_id = ? AND org_id = ?", c.Params("id"), user.OrgID).
		Order("enrolled_at DESC").Find(&enrollments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list enrollments", nil)
	}
	return c.JSON(utils.SuccessResponse(enrollments))
}

func (ec *EnrollmentController) PauseEnrollment(c *fiber.Ctx) error {
	return ec.override(c, models.EnrollmentStatusActive, models.EnrollmentStatusPaused)
}

func (ec *EnrollmentController) ResumeEnrollment(c *fiber.Ctx) error {
	return ec.override(c, models.EnrollmentStatusPaused, models.EnrollmentStatusActive)
}

// RemoveEnrollment takes a lead out of a cadence entirely.
func (ec *EnrollmentController) RemoveEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var enrollment models.CadenceEnrollment
	if err := ec.DB.Where("id = ? AND org_id = ?", c.Params("enrollmentId"), user.OrgID).
		First(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}

	if err := ec.DB.Delete(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to remove enrollment", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"removed": enrollment.ID}))
}

// override applies a manual status change; terminal enrollments are never
// reopened.
func (ec *EnrollmentController) override(c *fiber.Ctx, from, to string) error {
	user := c.Locals("user").(*models.User)

	var enrollment models.CadenceEnrollment
	if err := ec.DB.Where("id = ? AND org_id = ?", c.Params("enrollmentId"), user.OrgID).
		First(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	if enrollment.Status != from {
		return utils.ErrorResponse(c, fiber.StatusBadRequest,
			"Enrollment is not in a state that allows this change", nil)
	}

	if err := ec.DB.Model(&enrollment).Update("status", to).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update enrollment", nil)
	}
	return c.JSON(utils.SuccessResponse(enrollment))
}
