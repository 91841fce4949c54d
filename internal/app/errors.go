package app

import (
	"fmt"
	"net/http"

	"lineage/api/internal/validity"
)

// DomainError carries the HTTP status and machine-readable code a service
// failure maps to.
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
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

// validationError points the client at the offending input field.
func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string]any{"field": field})
}

// statusInheritanceError rejects a write whose entries claim a better status
// than their officiants can confer. Details lists every violation.
func statusInheritanceError(status validity.FormStatus) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "STATUS_INHERITANCE", status.Message, map[string]any{
		"violations": status.Violations,
	})
}

var (
	errWikiUnavailable   = domainError(http.StatusServiceUnavailable, "WIKI_UNAVAILABLE", "Wiki history is not configured", nil)
	errPhotosUnavailable = domainError(http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo storage is not configured", nil)
	errNoPhoto           = domainError(http.StatusNotFound, "NO_PHOTO", "No photo on record", nil)
)
