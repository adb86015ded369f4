package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs each request with its status, timing and caller.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	log = log.Named("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			fields := []zap.Field{
				zap.String("request_id", GetRequestID(c)),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("ip", c.RealIP()),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
			}
			if user := GetUser(c); user != nil {
				fields = append(fields, zap.String("user", user.Username))
			}
			if req.URL.RawQuery != "" {
				fields = append(fields, zap.String("query", req.URL.RawQuery))
			}
			if err != nil && status >= http.StatusInternalServerError {
				fields = append(fields, zap.Error(err))
			}

			lvl := zapcore.InfoLevel
			switch {
			case status >= 500:
				lvl = zapcore.ErrorLevel
			case status >= 400:
				lvl = zapcore.WarnLevel
			}
			log.Log(lvl, "request", fields...)

			return err
		}
	}
}

// Recovery turns a handler panic into a 500 response and logs it.
func Recovery(log *zap.Logger) echo.MiddlewareFunc {
	log = log.Named("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req := c.Request()
					log.Error("panic",
						zap.String("request_id", GetRequestID(c)),
						zap.String("method", req.Method),
						zap.String("path", req.URL.Path),
						zap.String("panic", fmt.Sprint(r)),
						zap.Stack("stack"),
					)
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()

			return next(c)
		}
	}
}
