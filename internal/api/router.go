package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"wikimport/internal/config"
	"wikimport/internal/database"
	"wikimport/internal/middleware"
	"wikimport/internal/models"
	"wikimport/internal/services"
)

// Services bundles what the HTTP surface needs.
type Services struct {
	DB       *database.DB
	Accounts *services.AccountService
	Wiki     *services.WikiService
	Imports  *services.ImportService
}

// NewServer builds the Echo instance with global middleware, uploads and the
// API routes.
func NewServer(cfg *config.Config, svc Services, log *zap.Logger) *echo.Echo {
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware (order matters!)
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(log))
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.SecurityHeaders())
	e.Use(echoMiddleware.GzipWithConfig(echoMiddleware.GzipConfig{Level: 5}))

	e.Static("/uploads", cfg.Upload.Path)

	RegisterRoutes(e, cfg, svc)

	e.HTTPErrorHandler = jsonErrorHandler(log)
	return e
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, svc Services) {
	logins := middleware.NewLockout(10, 15*time.Minute)
	h := NewHandlers(svc.DB, cfg, svc.Accounts, svc.Wiki, svc.Imports, logins)
	jwtMiddleware := NewJWTMiddleware(svc.Accounts, cfg.Security.SecretKey, logins)

	api := e.Group("/api/v1")

	// Public routes (no auth required)
	api.GET("/health", h.Health)
	api.POST("/auth/login", h.Login)

	protected := api.Group("")
	protected.Use(jwtMiddleware.Middleware())

	protected.GET("/me", h.GetCurrentUser)
	protected.GET("/stats", h.Stats)
	protected.GET("/pages", h.ListPages)
	protected.GET("/pages/*", h.GetPage)
	protected.GET("/tags", h.ListTags)
	protected.GET("/search", h.Search)

	imports := protected.Group("/imports")
	imports.Use(middleware.RequireRole(models.RoleImporter))
	imports.GET("", h.ListImports)
	imports.GET("/:id", h.GetImport)
	imports.POST("", h.CreateImport, middleware.RateLimit(10, time.Minute))
}

// jsonErrorHandler answers every error with the API's JSON error body.
func jsonErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(code)
			}
		}

		var respErr error
		if c.Request().Method == http.MethodHead {
			respErr = c.NoContent(code)
		} else {
			respErr = c.JSON(code, errorResponse{Error: message, Code: code})
		}
		if respErr != nil {
			log.Warn("failed to write error response", zap.Error(respErr))
		}
	}
}
