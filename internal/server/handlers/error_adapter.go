package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/wsfetch/internal/errors"
)

// HTTPErrorResponder writes err to w.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the responder used by every handler. nil
// restores the default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		httpErrorResponder = apperrors.RespondWithError
		return
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
