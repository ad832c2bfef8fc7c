package router

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github/chapool/ledger-provider/internal/api"
	"github/chapool/ledger-provider/internal/api/handlers/accounts"
	"github/chapool/ledger-provider/internal/api/handlers/common"
	"github/chapool/ledger-provider/internal/api/httperrors"
	"github/chapool/ledger-provider/internal/api/middleware"
)

// Init creates the echo instance of s and registers every route.
func Init(s *api.Server) {
	s.Echo = echo.New()

	s.Echo.Debug = false
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.HTTPErrorHandler = httperrors.HTTPErrorHandler

	s.Echo.Pre(echomiddleware.RemoveTrailingSlash())

	s.Echo.Use(
		echomiddleware.RequestID(),
		middleware.Logger(s.Config.Logger.RequestZerologLevel()),
		echomiddleware.Recover(),
	)

	s.Router = &api.Router{
		Routes:     nil,
		Root:       s.Echo.Group(""),
		Management: s.Echo.Group("/-"),
		APIV1:      s.Echo.Group("/api/v1"),
	}

	s.Router.Routes = append(s.Router.Routes,
		common.GetHealthyRoute(s),
		common.GetReadyRoute(s),
		common.GetMetricsRoute(s),
		accounts.GetAccountsRoute(s),
		accounts.GetAccountRoute(s),
	)
}
