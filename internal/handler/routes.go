package handler

import (
	"net/http"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/automlhub/api/internal/config"
	"github.com/automlhub/api/internal/middleware"
	ws "github.com/automlhub/api/internal/websocket"
)

// Routes carries everything the HTTP surface is built from.
type Routes struct {
	Projects *ProjectHandler
	DataSets *DataSetHandler
	Jobs     *JobHandler
	Models   *ModelHandler
	Frames   *FrameHandler
	Auth     *AuthHandler

	Hub         *ws.Hub
	RateLimiter *middleware.RateLimiter
	RateLimit   config.RateLimitConfig
	// Authenticate guards /api and /ws.
	Authenticate fiber.Handler
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// Health reports component status on /health.
	Health func() fiber.Map
}

// Register mounts every route on app.
func Register(app *fiber.App, r Routes) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok"}
		if r.Health != nil {
			status["services"] = r.Health()
		}
		return c.JSON(status)
	})

	if r.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(r.Metrics))
	}

	if r.Auth != nil {
		// ForwardAuth verification endpoint (internal, called by the gateway)
		app.Get("/auth/verify", r.Auth.Verify)
	}

	api := app.Group("/api", r.Authenticate, r.RateLimiter.ReadLimit(r.RateLimit.ReadsPerMin))
	workflows := r.RateLimiter.WorkflowLimit(r.RateLimit.WorkflowsPerHour)

	api.Get("/projects", r.Projects.List)
	api.Post("/projects", r.Projects.Create)

	project := api.Group("/projects/:projectId", r.Projects.RequireProject)
	project.Get("", r.Projects.Get)
	project.Delete("", r.Projects.Delete)
	project.Post("/session/renew", r.Projects.RenewSession)

	// DataSet routes
	project.Get("/datasets", r.DataSets.List)
	project.Post("/datasets", workflows, r.DataSets.Upload)
	project.Get("/datasets/:dataSetId", r.DataSets.Get)
	project.Get("/datasets/:dataSetId/file", r.DataSets.File)
	project.Delete("/datasets/:dataSetId", r.DataSets.Delete)
	project.Post("/datasets/:dataSetId/frame", workflows, r.DataSets.CreateFrame)
	project.Post("/datasets/:dataSetId/filter", r.DataSets.Filter)

	// Job routes
	project.Get("/jobs", r.Jobs.List)
	project.Delete("/jobs", r.Jobs.DeleteAll)
	project.Delete("/jobs/:jobId", r.Jobs.Delete)

	// Model routes
	project.Post("/automl", workflows, r.Models.RunAutoML)
	project.Post("/predict", workflows, r.Models.Predict)
	project.Get("/leaderboards/:leaderboardId", r.Models.Leaderboard)
	project.Post("/leaderboards/:leaderboardId/export", workflows, r.Models.ExportAll)
	project.Get("/models/:modelId", r.Models.Get)
	project.Delete("/models/:modelId", r.Models.Delete)
	project.Post("/models/:modelId/export", workflows, r.Models.Export)
	project.Get("/models/:modelId/serving", r.Models.Serving)
	project.Get("/models/:modelId/mojo", r.Models.Mojo)
	project.Get("/models/:modelId/genmodel", r.Models.GenModel)

	// Frame routes
	project.Get("/frames/:frameId/summary", r.Frames.Summary)
	project.Get("/frames/:frameId/data", r.Frames.Data)
	project.Get("/frames/:frameId/columns/:column", r.Frames.Column)
	project.Post("/frames/:frameId/columns/:index/type", r.Frames.ChangeColumnType)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/projects/:projectId/jobs", r.Authenticate, r.Projects.RequireProject, websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("projectId"))
	}))
}
