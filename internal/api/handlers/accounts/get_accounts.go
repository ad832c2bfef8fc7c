package accounts

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github/chapool/ledger-provider/internal/api"
	"github/chapool/ledger-provider/internal/api/httperrors"
)

type Account struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
}

type GetAccountsResponse struct {
	Device   string     `json:"device,omitempty"`
	Accounts []*Account `json:"accounts"`
}

func GetAccountsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/accounts", getAccountsHandler(s))
}

func GetAccountRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/accounts/:index", getAccountHandler(s))
}

// getAccountsHandler lists the published address book. The list is empty while
// no device is attached or bootstrap has not finished.
func getAccountsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		addresses := s.Provider.GetAddresses()

		response := &GetAccountsResponse{
			Accounts: make([]*Account, 0, len(addresses)),
		}
		if handle, ok := s.Provider.DeviceHandle(); ok {
			response.Device = string(handle)
		}

		for i, addr := range addresses {
			response.Accounts = append(response.Accounts, &Account{Index: i, Address: addr})
		}

		return c.JSON(http.StatusOK, response)
	}
}

func getAccountHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil || index < 0 {
			return httperrors.ErrBadRequestInvalidIndex
		}

		if _, ok := s.Provider.DeviceHandle(); !ok {
			return httperrors.ErrServiceUnavailableNoDevice
		}

		addr, ok := s.Provider.GetAddress(index)
		if !ok {
			return httperrors.ErrNotFoundAccount
		}

		return c.JSON(http.StatusOK, &Account{Index: index, Address: addr})
	}
}
