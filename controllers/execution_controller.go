package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"salesflow/engine"
	"salesflow/models"
	"salesflow/utils"
)

// ExecutionController exposes the two entry points into the cadence engine:
// a user-triggered run scoped to the actor's org and an internal run with
// elevated access for unattended cron invocation.
type ExecutionController struct {
	Engine *engine.Engine
	Logger *logrus.Logger
}

func NewExecutionController(eng *engine.Engine, logger *logrus.Logger) *ExecutionController {
	return &ExecutionController{Engine: eng, Logger: logger}
}

// RunCadences processes due enrollments for the acting user's organization.
func (xc *ExecutionController) RunCadences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	result, err := xc.Engine.Run(c.Context(), time.Now(), engine.Scope{OrgID: &user.OrgID})
	if err != nil {
		utils.LogError("cadence_run_failed", err, map[string]interface{}{
			"org_id":  user.OrgID,
			"user_id": user.ID,
		})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Cadence run failed", err)
	}

	xc.Logger.WithFields(logrus.Fields{
		"org_id":    user.OrgID,
		"processed": result.Processed,
		"sent":      result.Sent,
		"failed":    result.Failed,
		"completed": result.Completed,
		"skipped":   result.Skipped,
	}).Info("manual cadence run finished")

	return c.JSON(utils.SuccessResponse(result))
}

// RunCadencesInternal processes due enrollments across all organizations.
// Guarded by the scheduler token middleware, no session required.
func (xc *ExecutionController) RunCadencesInternal(c *fiber.Ctx) error {
	result, err := xc.Engine.Run(c.Context(), time.Now(), engine.Scope{})
	if err != nil {
		utils.LogError("scheduled_cadence_run_failed", err, nil)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Cadence run failed", err)
	}

	xc.Logger.WithFields(logrus.Fields{
		"processed": result.Processed,
		"sent":      result.Sent,
		"failed":    result.Failed,
		"completed": result.Completed,
		"skipped":   result.Skipped,
	}).Info("scheduled cadence run finished")

	return c.JSON(utils.SuccessResponse(result))
}
