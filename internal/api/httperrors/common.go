package httperrors

import (
	"fmt"
	"net/http"
)

// Error types reported in the type member of error responses.
const (
	TypeGeneric          = "generic"
	TypeNotReady         = "NOT_READY"
	TypeInvalidIndex     = "INVALID_ACCOUNT_INDEX"
	TypeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	TypeDeviceUnattached = "DEVICE_NOT_ATTACHED"
)

var (
	ErrBadRequestInvalidIndex     = NewHTTPError(http.StatusBadRequest, TypeInvalidIndex, "The account index must be a non-negative integer.")
	ErrNotFoundAccount            = NewHTTPError(http.StatusNotFound, TypeAccountNotFound, "No account at this index.")
	ErrServiceUnavailableNoDevice = NewHTTPError(http.StatusServiceUnavailable, TypeDeviceUnattached, "No signing device is attached.")
)

// HTTPError is the JSON body of every error response.
type HTTPError struct {
	Code  int    `json:"status"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

func NewHTTPError(code int, errorType string, title string) *HTTPError {
	return &HTTPError{
		Code:  code,
		Type:  errorType,
		Title: title,
	}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTPError %d (%s): %s", e.Code, e.Type, e.Title)
}
