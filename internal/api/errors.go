package api

import (
	"errors"
	"net/http"

	"pganon/internal/domain"
	"pganon/internal/trust"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var invalidObject *domain.InvalidObjectError
	var invalidInput *domain.InvalidInputError
	var denied *domain.InsufficientPrivilegeError
	var unsupported *domain.FeatureNotSupportedError
	var untrusted *trust.Error

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalidObject), errors.As(err, &invalidInput):
		return http.StatusBadRequest
	case errors.As(err, &untrusted):
		return http.StatusUnprocessableEntity
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &unsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
