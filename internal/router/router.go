package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quillmark/quillmark-api/internal/config"
	"github.com/quillmark/quillmark-api/internal/handler"
	"github.com/quillmark/quillmark-api/internal/middleware"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AttemptHandler *handler.AttemptHandler
	TeacherHandler *handler.TeacherHandler
	CronHandler    *handler.CronHandler
	JWTMiddleware  fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Student-facing routes are unauthenticated by design: students join by
	// code and hold only their attempt id. Joining is rate limited per IP.
	if deps.AttemptHandler != nil {
		public := api.Group("/public")
		public.Use("/attempts/join", middleware.RateLimit("attempt_join", 20, time.Minute))
		deps.AttemptHandler.Register(public)
	}

	if deps.TeacherHandler != nil {
		teacher := api.Group("/teacher", jwtMiddleware, middleware.RequireRole("teacher", "admin"))
		deps.TeacherHandler.Register(teacher)
	}

	if deps.CronHandler != nil {
		cron := app.Group("/cron")
		deps.CronHandler.Register(cron)
	}
}
