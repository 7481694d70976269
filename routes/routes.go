package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "salesflow/controllers"
	"salesflow/engine"
	"salesflow/middleware"
)

// SetupRoutes wires every HTTP endpoint. All customer-facing routes require
// a session; the internal run endpoint is guarded by the scheduler token.
func SetupRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine, log *logrus.Logger) {
	cadenceController := controller.NewCadenceController(db, log)
	enrollmentController := controller.NewEnrollmentController(db, log)
	templateController := controller.NewTemplateController(db, log)
	leadController := controller.NewLeadController(db, log)
	executionController := controller.NewExecutionController(eng, log)

	api := app.Group("", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Cadence management
	cadences := api.Group("/cadences", middleware.Protected())
	cadences.Post("/run", middleware.RunRateLimiter(), executionController.RunCadences)
	cadences.Post("/", cadenceController.CreateCadence)
	cadences.Get("/", cadenceController.ListCadences)
	cadences.Get("/:id", cadenceController.GetCadence)
	cadences.Post("/:id/steps", cadenceController.AddStep)
	cadences.Get("/:id/steps", cadenceController.ListSteps)
	cadences.Post("/:id/activate", cadenceController.ActivateCadence)
	cadences.Post("/:id/pause", cadenceController.PauseCadence)
	cadences.Post("/:id/archive", cadenceController.ArchiveCadence)

	// Enrollments nest under their cadence
	cadences.Post("/:id/enrollments", enrollmentController.EnrollLead)
	cadences.Get("/:id/enrollments", enrollmentController.ListEnrollments)
	cadences.Post("/:id/enrollments/:enrollmentId/pause", enrollmentController.PauseEnrollment)
	cadences.Post("/:id/enrollments/:enrollmentId/resume", enrollmentController.ResumeEnrollment)
	cadences.Delete("/:id/enrollments/:enrollmentId", enrollmentController.RemoveEnrollment)

	// Templates
	templates := api.Group("/templates", middleware.Protected())
	templates.Post("/", templateController.CreateTemplate)
	templates.Get("/", templateController.ListTemplates)
	templates.Get("/:id", templateController.GetTemplate)
	templates.Put("/:id", templateController.UpdateTemplate)
	templates.Post("/:id/preview", templateController.PreviewTemplate)

	// Leads
	leads := api.Group("/leads", middleware.Protected())
	leads.Post("/", leadController.CreateLead)
	leads.Get("/", leadController.ListLeads)
	leads.Get("/:id", leadController.GetLead)

	// Internal endpoints for unattended schedulers
	internal := api.Group("/internal", middleware.SchedulerToken())
	internal.Post("/cadences/run", executionController.RunCadencesInternal)

	log.Info("routes initialized")
}
