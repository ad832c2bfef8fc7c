package httperrors

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/ledger-provider/internal/util"
)

// HTTPErrorHandler renders errors returned by handlers as HTTPError JSON.
// Unknown errors become a generic 500 without leaking their message.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			httpErr = NewHTTPError(echoErr.Code, TypeGeneric, http.StatusText(echoErr.Code))
		} else {
			util.LogFromContext(c.Request().Context()).Error().Err(err).Msg("Unhandled error in handler")
			httpErr = NewHTTPError(http.StatusInternalServerError, TypeGeneric, http.StatusText(http.StatusInternalServerError))
		}
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(httpErr.Code)
	} else {
		writeErr = c.JSON(httpErr.Code, httpErr)
	}
	if writeErr != nil {
		util.LogFromContext(c.Request().Context()).Warn().Err(writeErr).Msg("Failed to write error response")
	}
}
