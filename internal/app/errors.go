package app

import (
	"errors"
	"fmt"
	"net/http"

	"tillbook/api/internal/archive"
	"tillbook/api/internal/auth"
	"tillbook/api/internal/backup"
	"tillbook/api/internal/email"
	"tillbook/api/internal/export"
	"tillbook/api/internal/media"
	"tillbook/api/internal/session"
	"tillbook/api/internal/store"
	"tillbook/api/internal/syncer"
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

var (
	errUnknownCollection = domainError(http.StatusNotFound, "UNKNOWN_COLLECTION", "Unknown collection", nil)
	errRecordNotFound    = domainError(http.StatusNotFound, "NOT_FOUND", "Record not found", nil)
	errConfirmRestore    = domainError(http.StatusBadRequest, "CONFIRMATION_REQUIRED", "Restore replaces all data; repeat with confirm=true", nil)
)

// syncFailed wraps an error from the remote store. The cause is kept for
// logging but not sent to the client.
type syncFailed struct {
	err error
}

func (e *syncFailed) Error() string { return "remote sync failed: " + e.err.Error() }

func (e *syncFailed) Unwrap() error { return e.err }

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, backup.ErrInvalidPayload):
		return http.StatusUnprocessableEntity, "INVALID_BACKUP", err.Error(), nil
	case errors.Is(err, syncer.ErrAlreadySeeded):
		return http.StatusConflict, "ALREADY_SEEDED", "Account already has data", nil
	case errors.Is(err, store.ErrInvalidRecord):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidIdentity):
		return http.StatusUnauthorized, "INVALID_IDENTITY", "Identity token rejected", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, archive.ErrNoHistory), errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Backup not found", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, email.ErrNoRecipient):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invoice has no valid customer email", nil
	case errors.Is(err, email.ErrNotConfigured):
		return http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "Email is not configured", nil
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", err.Error(), nil
	case errors.Is(err, media.ErrContentType), errors.Is(err, media.ErrUnsupportedKind), errors.Is(err, media.ErrEmpty):
		return http.StatusUnprocessableEntity, "INVALID_UPLOAD", err.Error(), nil
	}
	var remote *syncFailed
	if errors.As(err, &remote) {
		return http.StatusBadGateway, "SYNC_FAILED", "Remote sync failed", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
