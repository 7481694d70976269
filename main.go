package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"salesflow/config"
	"salesflow/engine"
	"salesflow/middleware"
	"salesflow/models"
	"salesflow/routes"
	"salesflow/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.Environment == "development" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Fatalf("Failed to initialize Sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Message transports, keyed by step channel
	dispatchers := map[string]engine.Dispatcher{
		models.ChannelEmail: engine.NewEmailDispatcher(config.DB, logger),
	}
	if config.AppConfig.Twilio.AccountSID != "" {
		wa, err := engine.NewWhatsAppDispatcher(
			config.AppConfig.Twilio.AccountSID,
			config.AppConfig.Twilio.AuthToken,
			config.AppConfig.Twilio.WhatsAppFrom,
			logger,
		)
		if err != nil {
			logger.Fatalf("Failed to initialize WhatsApp dispatcher: %v", err)
		}
		dispatchers[models.ChannelWhatsApp] = wa
	}

	var personalizer engine.Personalizer
	if config.AppConfig.OpenAIAPIKey != "" {
		personalizer = engine.NewOpenAIPersonalizer(
			config.AppConfig.OpenAIAPIKey,
			config.AppConfig.OpenAIModel,
			logger,
		)
	}

	eng := engine.New(config.DB, logger, personalizer, dispatchers)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "salesflow",
	})
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, config.DB, eng, logger)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Scheduled cadence execution
	cadenceWorker := worker.NewCadenceWorker(eng, config.AppConfig.CadenceCronSpec, logger)
	if err := cadenceWorker.Start(); err != nil {
		logger.Fatalf("Failed to start cadence worker: %v", err)
	}
	defer cadenceWorker.Stop()

	// Reply detection
	replyWorker := worker.NewReplyWorker(
		config.DB,
		time.Duration(config.AppConfig.ReplyPollMinutes)*time.Minute,
		logger,
	)
	go replyWorker.Start(ctx)

	// Start server
	logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(fmt.Sprintf(":%s", config.AppConfig.ServerPort)); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
