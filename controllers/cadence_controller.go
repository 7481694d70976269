package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesflow/models"
	"salesflow/utils"
)

type CadenceController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewCadenceController(db *gorm.DB, logger *logrus.Logger) *CadenceController {
	return &CadenceController{DB: db, Logger: logger}
}

// minimum number of steps a cadence needs before it can be activated
const minActivationSteps = 2

func (cc *CadenceController) CreateCadence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string `json:"name" validate:"required,min=2,max=120"`
		Description string `json:"description" validate:"max=500"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	cadence := models.Cadence{
		OrgID:       user.OrgID,
		CreatedBy:   user.ID,
		Name:        input.Name,
		Description: input.Description,
		Status:      models.CadenceStatusDraft,
	}
	if err := cc.DB.Create(&cadence).Error; err != nil {
		cc.Logger.WithError(err).Error("failed to create cadence")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create cadence", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(cadence))
}

func (cc *CadenceController) ListCadences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var cadences []models.Cadence
	if err := cc.DB.Where("org_id = ?", user.OrgID).
		Order("created_at DESC").Find(&cadences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list cadences", nil)
	}
	return c.JSON(utils.SuccessResponse(cadences))
}

func (cc *CadenceController) GetCadence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var cadence models.Cadence
	if err := cc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).Where("id = ? AND org_id = ?", c.Params("id"), user.OrgID).
		First(&cadence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Cadence not found", nil)
	}
	return c.JSON(utils.SuccessResponse(cadence))
}

// AddStep appends a step to a cadence. Step order is assigned by the server
// so orders stay contiguous and unique.
func (cc *CadenceController) AddStep(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Channel           string `json:"channel" validate:"required,oneof=email whatsapp"`
		TemplateID        *uint  `json:"template_id"`
		DelayDays         int    `json:"delay_days" validate:"min=0,max=365"`
		DelayHours        int    `json:"delay_hours" validate:"min=0,max=23"`
		AIPersonalization bool   `json:"ai_personalization"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var cadence models.Cadence
	if err := cc.DB.Where("id = ? AND org_id = ?", c.Params("id"), user.OrgID).
		First(&cadence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Cadence not found", nil)
	}
	if cadence.Status == models.CadenceStatusArchived {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Cannot add steps to an archived cadence", nil)
	}

	if input.TemplateID != nil {
		var template models.MessageTemplate
		if err := cc.DB.Where("id = ? AND (org_id = ? OR is_system = ?)", *input.TemplateID, user.OrgID, true).
			First(&template).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Template not found", nil)
		}
	}

	step := models.CadenceStep{
		CadenceID:         cadence.ID,
		StepOrder:         cadence.StepCount + 1,
		Channel:           input.Channel,
		TemplateID:        input.TemplateID,
		DelayDays:         input.DelayDays,
		DelayHours:        input.DelayHours,
		AIPersonalization: input.AIPersonalization,
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&step).Error; err != nil {
			return err
		}
		return tx.Model(&cadence).Update("step_count", cadence.StepCount+1).Error
	})
	if err != nil {
		cc.Logger.WithError(err).Error("failed to add cadence step")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to add step", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(step))
}

func (cc *CadenceController) ListSteps(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var cadence models.Cadence
	if err := cc.DB.Where("id = ? AND org_id = ?", c.Params("id"), user.OrgID).
		First(&cadence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Cadence not found", nil)
	}

	var steps []models.CadenceStep
	if err := cc.DB.Where("cadence_id = ?", cadence.ID).
		Order("step_order ASC").Find(&steps).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list steps", nil)
	}
	return c.JSON(utils.SuccessResponse(steps))
}

func (cc *CadenceController) ActivateCadence(c *fiber.Ctx) error {
	return cc.transition(c, models.CadenceStatusActive)
}

func (cc *CadenceController) PauseCadence(c *fiber.Ctx) error {
	return cc.transition(c, models.CadenceStatusPaused)
}

func (cc *CadenceController) ArchiveCadence(c *fiber.Ctx) error {
	return cc.transition(c, models.CadenceStatusArchived)
}

func (cc *CadenceController) transition(c *fiber.Ctx, target string) error {
	user := c.Locals("user").(*models.User)

	var cadence models.Cadence
	if err := cc.DB.Where("id = ? AND org_id = ?", c.Params("id"), user.OrgID).
		First(&cadence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Cadence not found", nil)
	}

	if target == models.CadenceStatusActive && cadence.StepCount < minActivationSteps {
		return utils.ErrorResponse(c, fiber.StatusBadRequest,
			"Cadence needs at least 2 steps before activation", nil)
	}
	if cadence.Status == models.CadenceStatusArchived {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Archived cadences cannot change status", nil)
	}

	if err := cc.DB.Model(&cadence).Update("status", target).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update cadence", nil)
	}

	utils.LogEvent("cadence_status_changed", map[string]interface{}{
		"cadence_id": cadence.ID,
		"org_id":     cadence.OrgID,
		"status":     target,
	})
	return c.JSON(utils.SuccessResponse(cadence))
}
