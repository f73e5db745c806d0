package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yanqian/truthcard/pkg/errors"
)

// HTTPError captures the metadata required to serialize an error response consistently.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// NewHTTPError is a helper to build an HTTPError instance.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

var codeStatus = map[string]int{
	"invalid_input":              http.StatusBadRequest,
	"invalid_format":             http.StatusBadRequest,
	"invalid_signature":          http.StatusBadRequest,
	"invalid_token":              http.StatusUnauthorized,
	"payment_required":           http.StatusPaymentRequired,
	"not_found":                  http.StatusNotFound,
	"invalid_state":              http.StatusConflict,
	"invalid_file_type":          http.StatusUnsupportedMediaType,
	"image_decode_failure":       http.StatusUnprocessableEntity,
	"upload_limit_reached":       http.StatusTooManyRequests,
	"file_read_failure":          http.StatusInternalServerError,
	"storage_error":              http.StatusInternalServerError,
	"render_error":               http.StatusInternalServerError,
	"payment_order_failure":      http.StatusBadGateway,
	"payment_widget_unavailable": http.StatusServiceUnavailable,
}

// fromAppError maps a domain error onto its HTTP status, keeping the domain code.
func fromAppError(err error) *HTTPError {
	code := apperrors.CodeOf(err)
	status, ok := codeStatus[code]
	if !ok {
		return NewHTTPError(http.StatusInternalServerError, "internal_error", "something went wrong", err)
	}
	return NewHTTPError(status, code, apperrors.MessageOf(err), err)
}

func asHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return fromAppError(err)
}

func abortWithError(c *gin.Context, err *HTTPError) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func fail(c *gin.Context, err error) {
	abortWithError(c, asHTTPError(err))
}
