package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/ledger-provider/internal/api"
	"github/chapool/ledger-provider/internal/util"
)

// statusNotReady is what load balancers and the readiness probe look for.
const statusNotReady = 521

func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/ready", getReadyHandler(s))
}

func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.Ready() {
			util.LogFromContext(c.Request().Context()).Debug().Msg("Provider not ready")
			return c.String(statusNotReady, "Not ready.")
		}

		return c.String(http.StatusOK, "Ready.")
	}
}
