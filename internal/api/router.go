// Package api exposes the operator HTTP surface: job intake, status polling,
// cancellation, usage statistics and maintenance.
package api

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/alzaio/anyvideodownload/internal/api/handlers"
	"github.com/alzaio/anyvideodownload/internal/api/middleware"
	"github.com/alzaio/anyvideodownload/internal/core/fetch"
	"github.com/alzaio/anyvideodownload/internal/core/pipeline"
	"github.com/alzaio/anyvideodownload/internal/stats"
)

type RouterConfig struct {
	JWTSecret     string
	JWTExpiry     time.Duration
	AdminUsername string
	AdminPassword string

	Sched       *pipeline.Scheduler
	Fetcher     fetch.Fetcher
	Store       *stats.Store // nil when no database is configured
	DownloadDir string
	MaxBytes    int64
}

func SetupRouter(e *echo.Echo, cfg RouterConfig) error {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(20)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/api/v1")
	config := huma.DefaultConfig("AnyVideoDownload API", "1.0.0")
	config.Servers = []*huma.Server{{URL: "/api/v1"}}
	config.Info.Description = "Media download, transcode and delivery pipeline"
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"BearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "JWT Bearer token",
		},
	}

	handlers.InitErrors()
	api := humaecho.NewWithGroup(e, v1, config)

	authMw := middleware.Auth(cfg.JWTSecret)
	secured := []map[string][]string{{"BearerAuth": {}}}

	authHandler, err := handlers.NewAuthHandler(cfg.AdminUsername, cfg.AdminPassword, cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Login and get JWT token",
		Tags:        []string{"Auth"},
	}, authHandler.Login)

	jobsHandler := handlers.NewJobsHandler(cfg.Sched, cfg.Fetcher, cfg.MaxBytes)
	huma.Register(api, huma.Operation{
		OperationID:   "jobs-submit",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Submit a download job",
		Tags:          []string{"Jobs"},
		Security:      secured,
		Middlewares:   huma.Middlewares{authMw},
		DefaultStatus: http.StatusCreated,
	}, jobsHandler.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "jobs-probe",
		Method:      http.MethodPost,
		Path:        "/jobs/probe",
		Summary:     "Probe media metadata without downloading",
		Tags:        []string{"Jobs"},
		Security:    secured,
		Middlewares: huma.Middlewares{authMw},
	}, jobsHandler.Probe)

	huma.Register(api, huma.Operation{
		OperationID: "jobs-status",
		Method:      http.MethodGet,
		Path:        "/jobs/{key}",
		Summary:     "Get the latest job status for a requester",
		Tags:        []string{"Jobs"},
		Security:    secured,
		Middlewares: huma.Middlewares{authMw},
	}, jobsHandler.Status)

	huma.Register(api, huma.Operation{
		OperationID: "jobs-cancel",
		Method:      http.MethodDelete,
		Path:        "/jobs/{key}",
		Summary:     "Cancel a requester's job",
		Tags:        []string{"Jobs"},
		Security:    secured,
		Middlewares: huma.Middlewares{authMw},
	}, jobsHandler.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "jobs-pool",
		Method:      http.MethodGet,
		Path:        "/pool",
		Summary:     "Get worker pool occupancy",
		Tags:        []string{"Jobs"},
		Security:    secured,
		Middlewares: huma.Middlewares{authMw},
	}, jobsHandler.Pool)

	if cfg.Store != nil {
		usageHandler := handlers.NewUsageHandler(cfg.Store)
		huma.Register(api, huma.Operation{
			OperationID: "usage-top",
			Method:      http.MethodGet,
			Path:        "/usage",
			Summary:     "List heaviest requesters",
			Tags:        []string{"Usage"},
			Security:    secured,
			Middlewares: huma.Middlewares{authMw},
		}, usageHandler.Top)

		huma.Register(api, huma.Operation{
			OperationID: "usage-get",
			Method:      http.MethodGet,
			Path:        "/usage/{key}",
			Summary:     "Get usage totals for a requester",
			Tags:        []string{"Usage"},
			Security:    secured,
			Middlewares: huma.Middlewares{authMw},
		}, usageHandler.Get)
	}

	maintHandler := handlers.NewMaintenanceHandler(cfg.DownloadDir, cfg.Sched)
	huma.Register(api, huma.Operation{
		OperationID: "downloads-cache-clear",
		Method:      http.MethodDelete,
		Path:        "/downloads/cache",
		Summary:     "Remove orphaned working directories",
		Tags:        []string{"Maintenance"},
		Security:    secured,
		Middlewares: huma.Middlewares{authMw},
	}, maintHandler.Purge)

	return nil
}
