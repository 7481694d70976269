package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesflow/models"
	"salesflow/utils"
)

type LeadController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewLeadController(db *gorm.DB, logger *logrus.Logger) *LeadController {
	return &LeadController{DB: db, Logger: logger}
}

func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string `json:"name" validate:"required,min=2,max=200"`
		LegalName   string `json:"legal_name" validate:"max=200"`
		TaxID       string `json:"tax_id" validate:"max=32"`
		SizeTier    string `json:"size_tier" validate:"omitempty,oneof=micro small medium large"`
		ContactName string `json:"contact_name" validate:"max=120"`
		Email       string `json:"email" validate:"omitempty,email"`
		Phone       string `json:"phone" validate:"max=32"`
		City        string `json:"city" validate:"max=120"`
		State       string `json:"state" validate:"max=60"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lead := models.Lead{
		OrgID:       user.OrgID,
		Name:        input.Name,
		LegalName:   input.LegalName,
		TaxID:       input.TaxID,
		SizeTier:    input.SizeTier,
		ContactName: input.ContactName,
		Email:       input.Email,
		Phone:       input.Phone,
		City:        input.City,
		State:       input.State,
		Source:      "api",
	}
	if err := lc.DB.Create(&lead).Error; err != nil {
		lc.Logger.WithError(err).Error("failed to create lead")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

func (lc *LeadController) ListLeads(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	var leads []models.Lead
	var total int64
	lc.DB.Model(&models.Lead{}).Where("org_id = ?", user.OrgID).Count(&total)
	if err := lc.DB.Where("org_id = ?", user.OrgID).
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list leads", nil)
	}

	return c.JSON(fiber.Map{
		"data":  leads,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND org_id = ?", c.Params("id"), user.OrgID).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	return c.JSON(utils.SuccessResponse(lead))
}
