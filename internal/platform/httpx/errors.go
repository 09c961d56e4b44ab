// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/retifica-erp/retifica/internal/shared"
)

// ErrUnauthorized is returned when the request carries no valid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		overlap *shared.OverlapError
		verr    *shared.ValidationError
	)
	switch {
	case errors.As(err, &overlap):
		Problem(w, http.StatusConflict, "Threshold Overlap", err.Error())
	case errors.As(err, &verr):
		ProblemWithFields(w, http.StatusBadRequest, "Validation Failed", err.Error(), verr.Fields)
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrPrecondition):
		Problem(w, http.StatusConflict, "Precondition Failed", err.Error())
	case errors.Is(err, shared.ErrSequence):
		Problem(w, http.StatusConflict, "Out Of Sequence", err.Error())
	case errors.Is(err, shared.ErrLimitExceeded):
		Problem(w, http.StatusUnprocessableEntity, "Limit Exceeded", err.Error())
	case errors.Is(err, shared.ErrConfiguration):
		Problem(w, http.StatusUnprocessableEntity, "Configuration Error", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
