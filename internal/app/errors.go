package app

import (
	"errors"
	"fmt"
	"net/http"

	"slidesync/api/internal/assets"
	"slidesync/api/internal/history"
	"slidesync/api/internal/mutation"
	"slidesync/api/internal/presence"
	"slidesync/api/internal/session"
	"slidesync/api/internal/store"
)

const (
	codeValidation  = "VALIDATION_ERROR"
	codeNotFound    = "NOT_FOUND"
	codeForbidden   = "FORBIDDEN"
	codeStore       = "STORE_ERROR"
	codeStale       = "STALE_REFERENCE"
	codeInvalidJoin = "INVALID_JOIN"
	codeInvalidBody = "INVALID_BODY"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, codeForbidden, message, nil)
}

func validation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, codeValidation, message, nil)
}

// mapError classifies any error coming out of the service layer. The same
// mapping backs HTTP responses and websocket error events.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var mErr *mutation.Error
	if errors.As(err, &mErr) {
		switch mErr.Kind {
		case mutation.KindValidation:
			return http.StatusUnprocessableEntity, codeValidation, mErr.Message, nil
		case mutation.KindForbidden:
			return http.StatusForbidden, codeForbidden, mErr.Message, nil
		case mutation.KindNotFound:
			return http.StatusNotFound, codeNotFound, mErr.Message, nil
		case mutation.KindStale:
			return http.StatusConflict, codeStale, mErr.Message, nil
		default:
			return http.StatusInternalServerError, codeStore, "Could not save change", nil
		}
	}

	switch {
	case errors.Is(err, session.ErrInvalidJoin):
		return http.StatusNotFound, codeInvalidJoin, "Presentation not found", nil
	case errors.Is(err, session.ErrInvalidName):
		return http.StatusUnprocessableEntity, codeValidation, "displayName is required", nil
	case errors.Is(err, presence.ErrForbidden):
		return http.StatusForbidden, codeForbidden, err.Error(), nil
	case errors.Is(err, presence.ErrInvalidRole), errors.Is(err, presence.ErrOwnerRole):
		return http.StatusUnprocessableEntity, codeValidation, err.Error(), nil
	case errors.Is(err, presence.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "Participant not found", nil
	case errors.Is(err, assets.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, codeValidation, err.Error(), nil
	case errors.Is(err, history.ErrNoHistory):
		return http.StatusNotFound, codeNotFound, "No saved history", nil
	case errors.Is(err, store.ErrLastPage):
		return http.StatusUnprocessableEntity, codeValidation, "A presentation must keep at least one page", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "Not found", nil
	}
	return http.StatusInternalServerError, codeStore, "Server error", nil
}
