package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesflow/engine"
	"salesflow/models"
	"salesflow/utils"
)

type TemplateController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewTemplateController(db *gorm.DB, logger *logrus.Logger) *TemplateController {
	return &TemplateController{DB: db, Logger: logger}
}

func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name     string `json:"name" validate:"required,min=2,max=120"`
		Subject  string `json:"subject" validate:"max=300"`
		Body     string `json:"body" validate:"required"`
		Category string `json:"category" validate:"max=60"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	template := models.MessageTemplate{
		OrgID:     user.OrgID,
		CreatedBy: user.ID,
		Name:      input.Name,
		Subject:   input.Subject,
		Body:      input.Body,
		Category:  input.Category,
		Variables: engine.ExtractVariables(input.Subject + " " + input.Body),
	}
	if err := tc.DB.Create(&template).Error; err != nil {
		tc.Logger.WithError(err).Error("failed to create template")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create template", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(template))
}

func (tc *TemplateController) ListTemplates(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var templates []models.MessageTemplate
	if err := tc.DB.Where("org_id = ? OR is_system = ?", user.OrgID, true).
		Order("created_at DESC").Find(&templates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list templates", nil)
	}
	return c.JSON(utils.SuccessResponse(templates))
}

func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.MessageTemplate
	if err := tc.DB.Where("id = ? AND (org_id = ? OR is_system = ?)", c.Params("id"), user.OrgID, true).
		First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}
	return c.JSON(utils.SuccessResponse(template))
}

func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.MessageTemplate
	if err := tc.DB.Where("id = ? AND org_id = ?", c.Params("id"), user.OrgID).
		First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}
	if template.IsSystem {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "System templates are read-only", nil)
	}

	var input struct {
		Name     *string `json:"name"`
		Subject  *string `json:"subject"`
		Body     *string `json:"body"`
		Category *string `json:"category"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if input.Name != nil {
		template.Name = *input.Name
	}
	if input.Subject != nil {
		template.Subject = *input.Subject
	}
	if input.Body != nil {
		template.Body = *input.Body
	}
	if input.Category != nil {
		template.Category = *input.Category
	}
	template.Variables = engine.ExtractVariables(template.Subject + " " + template.Body)

	if err := tc.DB.Save(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update template", nil)
	}
	return c.JSON(utils.SuccessResponse(template))
}

// PreviewTemplate renders a template against one of the org's leads.
func (tc *TemplateController) PreviewTemplate(c *fiber.Ctx) error {
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

	var template models.MessageTemplate
	if err := tc.DB.Where("id = ? AND (org_id = ? OR is_system = ?)", c.Params("id"), user.OrgID, true).
		First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var lead models.Lead
	if err := tc.DB.Where("id = ? AND org_id = ?", input.LeadID, user.OrgID).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	variables := engine.LeadVariables(&lead)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"subject": engine.Render(template.Subject, variables),
		"body":    engine.Render(template.Body, variables),
	}))
}
