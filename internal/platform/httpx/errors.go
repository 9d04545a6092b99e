package httpx

import (
	"errors"
	"net/http"

	"github.com/stockpoint/stockpoint/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Validation and dependency failures carry their detail to the caller;
// everything unexpected collapses into an opaque 500.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validationErr *shared.ValidationError
		quantityErr   *shared.QuantityExceededError
		dependencyErr *shared.DependencyError
	)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &validationErr):
		Problem(w, http.StatusBadRequest, "Validation Failed", validationErr.Error())
	case errors.As(err, &quantityErr):
		Problem(w, http.StatusConflict, "Quantity Exceeded", quantityErr.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrVersionConflict):
		Problem(w, http.StatusConflict, "Conflict", "the record was modified concurrently, retry")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.As(err, &dependencyErr):
		Problem(w, http.StatusBadGateway, "Dependency Failed", dependencyErr.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
