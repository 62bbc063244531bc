package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/quillmark/quillmark-api/internal/config"
	"github.com/quillmark/quillmark-api/internal/database"
	"github.com/quillmark/quillmark-api/internal/events"
	"github.com/quillmark/quillmark-api/internal/handler"
	"github.com/quillmark/quillmark-api/internal/middleware"
	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/observability"
	"github.com/quillmark/quillmark-api/internal/repository"
	"github.com/quillmark/quillmark-api/internal/router"
	"github.com/quillmark/quillmark-api/internal/service"
	"github.com/quillmark/quillmark-api/pkg/ai"
	"github.com/quillmark/quillmark-api/pkg/artifact"
	cloud "github.com/quillmark/quillmark-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Assessment{}, &models.Attempt{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, assessment cache disabled")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, lifecycle events disabled")
		} else {
			defer natsConn.Close()
		}
	}
	publisher := events.NewPublisher(natsConn, cfg.EventSubjectBase, logger)

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	grader, err := buildGrader(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create grader: %v", err)
	}

	renderer, err := artifact.NewHTMLRenderer()
	if err != nil {
		log.Fatalf("failed to create artifact renderer: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	attemptRepo := repository.NewAttemptRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)

	lookup := service.NewAssessmentLookup(assessmentRepo, redisClient, cfg.AssessmentCacheTTL, logger)
	finalizer := service.NewFinalizationService(attemptRepo, publisher, logger)
	guard := service.NewExpiryGuard(attemptRepo, lookup, finalizer, logger)
	sweeper := service.NewExpirySweeper(attemptRepo, lookup, finalizer, cfg.SweepBatchSize, logger)
	gradingService := service.NewGradingService(attemptRepo, lookup, grader, publisher, cfg.GradingTimeout, logger)
	artifactService := service.NewArtifactService(attemptRepo, lookup, renderer, uploader, cfg.ArtifactTimeout, logger)
	releaseService := service.NewReleaseService(attemptRepo, publisher, logger)
	attemptService := service.NewAttemptService(attemptRepo, assessmentRepo, lookup, guard, finalizer, gradingService, artifactService, logger)

	attemptHandler := handler.NewAttemptHandler(attemptService, validate, logger)
	teacherHandler := handler.NewTeacherHandler(attemptService, gradingService, artifactService, releaseService, logger)
	cronHandler := handler.NewCronHandler(sweeper, cfg.CronSecret, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	app.Get("/metrics", observability.MetricsHandler())
	router.Register(app, cfg, router.Dependencies{
		AttemptHandler: attemptHandler,
		TeacherHandler: teacherHandler,
		CronHandler:    cronHandler,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func buildGrader(cfg config.Config, logger zerolog.Logger) (ai.Grader, error) {
	switch cfg.AIProvider {
	case "anthropic":
		return ai.NewAnthropicGrader(ai.AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AIModel,
		})
	default:
		return ai.NewOpenAIGrader(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.AIModel,
			Logger: logger,
		})
	}
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
