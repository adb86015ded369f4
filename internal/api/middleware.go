package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"wikimport/internal/middleware"
	"wikimport/internal/models"
	"wikimport/internal/services"
)

// tokenIssuer is stamped into and required from every access token.
const tokenIssuer = "wikimport"

// JWTClaims represents the claims in a JWT token.
type JWTClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a signed access token for a user.
func GenerateJWT(user *models.User, secretKey string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

// ParseJWT verifies a token's signature, issuer and lifetime.
func ParseJWT(tokenString, secretKey string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// JWTMiddleware authenticates bearer tokens and loads the caller.
type JWTMiddleware struct {
	accounts  *services.AccountService
	secretKey string
	lockout   *middleware.Lockout
}

// NewJWTMiddleware creates a new JWT middleware. Clients that keep sending bad
// tokens are locked out by lockout.
func NewJWTMiddleware(accounts *services.AccountService, secretKey string, lockout *middleware.Lockout) *JWTMiddleware {
	return &JWTMiddleware{
		accounts:  accounts,
		secretKey: secretKey,
		lockout:   lockout,
	}
}

// Middleware returns the Echo middleware function.
func (m *JWTMiddleware) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clientIP := c.RealIP()

			if ok, _ := m.lockout.Allowed(clientIP); !ok {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed authentication attempts")
			}

			tokenString, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				m.lockout.Fail(clientIP)
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed bearer token")
			}

			claims, err := ParseJWT(tokenString, m.secretKey)
			if err != nil {
				m.lockout.Fail(clientIP)
				if errors.Is(err, jwt.ErrTokenExpired) {
					return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			user, err := m.accounts.GetUserByID(c.Request().Context(), claims.UserID)
			if errors.Is(err, services.ErrUserNotFound) {
				m.lockout.Fail(clientIP)
				return echo.NewHTTPError(http.StatusUnauthorized, "user not found or inactive")
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to get user").SetInternal(err)
			}
			if !user.IsActive {
				m.lockout.Fail(clientIP)
				return echo.NewHTTPError(http.StatusUnauthorized, "user not found or inactive")
			}

			m.lockout.Reset(clientIP)
			middleware.SetUser(c, user)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
