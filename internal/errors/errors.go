// Package errors maps application errors onto HTTP responses and CLI
// messages.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/wsfetch/pkg/engine"
	"github.com/3leaps/wsfetch/pkg/intake"
	"github.com/3leaps/wsfetch/pkg/metadata"
	"github.com/3leaps/wsfetch/pkg/queue"
)

// Error codes carried in HTTP error bodies.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeUnprocessable      = "UNPROCESSABLE_ENTITY"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPError as {"error": {...}}.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	c := *e
	c.Details = details
	return &c
}

func newAppError(status int, code, message string, err error) *AppError {
	return &AppError{Status: status, Code: code, Message: message, Err: err}
}

// NewBadRequestError reports invalid client input.
func NewBadRequestError(message string, err error) *AppError {
	return newAppError(http.StatusBadRequest, CodeBadRequest, message, err)
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *AppError {
	return newAppError(http.StatusNotFound, CodeNotFound, message, nil)
}

// NewConflictError reports a request that does not fit the resource state.
func NewConflictError(message string, err error) *AppError {
	return newAppError(http.StatusConflict, CodeConflict, message, err)
}

// NewUnprocessableError reports well-formed input that could not be used.
func NewUnprocessableError(message string, err error) *AppError {
	return newAppError(http.StatusUnprocessableEntity, CodeUnprocessable, message, err)
}

// NewServiceUnavailableError reports a dependency that is not ready.
func NewServiceUnavailableError(message string) *AppError {
	return newAppError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, nil)
}

// NewExternalServiceError reports a failing upstream.
func NewExternalServiceError(message string) *AppError {
	return newAppError(http.StatusBadGateway, CodeExternalService, message, nil)
}

// WrapInternal wraps err as an internal error. Context cancellation is kept
// visible to errors.Is.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	if err == nil {
		return nil
	}
	if ctx != nil && ctx.Err() != nil && !stderrors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%w (context: %v)", err, ctx.Err())
	}
	return newAppError(http.StatusInternalServerError, CodeInternal, message, err)
}

// Classify maps domain errors onto AppErrors. Errors that are already
// AppErrors pass through.
func Classify(err error) *AppError {
	var appErr *AppError
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &appErr):
		return appErr
	case stderrors.Is(err, queue.ErrJobNotFound):
		return newAppError(http.StatusNotFound, CodeNotFound, "job not found", err)
	case stderrors.Is(err, queue.ErrInvalidTransition), stderrors.Is(err, intake.ErrNotRetryable):
		return newAppError(http.StatusConflict, CodeConflict, "job is not in a valid state for this operation", err)
	case stderrors.Is(err, queue.ErrInvalidSourceRef), stderrors.Is(err, metadata.ErrInvalidURL):
		return newAppError(http.StatusBadRequest, CodeBadRequest, "invalid source", err)
	case stderrors.Is(err, metadata.ErrMetadataExtraction):
		return newAppError(http.StatusUnprocessableEntity, CodeUnprocessable, "could not extract metadata", err)
	case stderrors.Is(err, engine.ErrEngineUnavailable):
		return newAppError(http.StatusServiceUnavailable, CodeServiceUnavailable, "engine unavailable", err)
	default:
		return newAppError(http.StatusInternalServerError, CodeInternal, "internal error", err)
	}
}

// RespondWithError writes err as a JSON error response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := Classify(err)
	if appErr == nil {
		appErr = newAppError(http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}

	body := HTTPErrorResponse{Error: HTTPError{
		Code:    appErr.Code,
		Message: appErr.Error(),
		Details: appErr.Details,
	}}
	if r != nil {
		body.Error.RequestID = middleware.GetReqID(r.Context())
	}
	WriteJSON(w, appErr.Status, body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
