package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github/chapool/ledger-provider/internal/util"
)

// Logger attaches a request scoped zerolog logger to the request context and
// logs every finished request at level.
func Logger(level zerolog.Level) echo.MiddlewareFunc {
	attach := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			logger := log.With().
				Str("component", "management_api").
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Logger()

			c.SetRequest(req.WithContext(util.ContextWithLogger(req.Context(), logger)))

			return next(c)
		}
	}

	logRequest := middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			e := util.LogFromContext(c.Request().Context()).WithLevel(level)
			if v.Error != nil {
				e = e.Err(v.Error)
			}

			e.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("Request")

			return nil
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return attach(logRequest(next))
	}
}
