package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"wikimport/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// SetUser stores the authenticated user on the request.
func SetUser(c echo.Context, user *models.User) {
	ctx := context.WithValue(c.Request().Context(), userContextKey, user)
	c.SetRequest(c.Request().WithContext(ctx))
}

// GetUser retrieves the current user from context.
func GetUser(c echo.Context) *models.User {
	user, ok := c.Request().Context().Value(userContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// RequireRole rejects users whose role does not grant minRole.
func RequireRole(minRole models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetUser(c)
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			hasPermission := false
			switch minRole {
			case models.RoleViewer:
				hasPermission = true
			case models.RoleImporter:
				hasPermission = user.Role.CanImport()
			case models.RoleAdmin:
				hasPermission = user.Role.CanAdmin()
			}

			if !hasPermission {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}

			return next(c)
		}
	}
}

// CanImport returns true if the current user may start imports.
func CanImport(c echo.Context) bool {
	user := GetUser(c)
	return user != nil && user.Role.CanImport()
}
