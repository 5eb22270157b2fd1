// Package middleware holds HTTP middleware shared by the API router.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/wsfetch/internal/errors"
	"github.com/3leaps/wsfetch/internal/observability"
)

// ErrorResponse is the JSON body written for recovered panics.
type ErrorResponse = apperrors.HTTPErrorResponse

// RequestID propagates X-Request-ID, generating one when absent.
func RequestID(next http.Handler) http.Handler {
	return chimw.RequestID(next)
}

// Recovery turns panics into 500 INTERNAL_ERROR responses.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			msg := fmt.Sprintf("panic: %v", rec)
			observability.ServerLogger.Error("handler panic",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("panic", fmt.Sprint(rec)),
				zap.ByteString("stack", debug.Stack()),
			)

			body := apperrors.HTTPError{
				Code:      apperrors.CodeInternal,
				Message:   msg,
				RequestID: chimw.GetReqID(r.Context()),
			}
			writeErrorResponse(w, body, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name used by older routers.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, body apperrors.HTTPError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: body})
}
