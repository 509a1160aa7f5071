// Package errs defines the error taxonomy shared by the dispatch core.
// Callers classify failures with errors.Is against the sentinel kinds.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap them with the helpers below so call sites keep the
// underlying detail while remaining classifiable.
var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization marks a caller with the wrong role or an unapproved
	// or unassigned driver.
	ErrAuthorization = errors.New("not authorized")
	// ErrNotFound marks an unknown shipment, driver or vehicle.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an illegal state transition or a wrong one-time code.
	ErrConflict = errors.New("conflict")
	// ErrNoCandidate marks a matching run that found nobody. It is an
	// expected business outcome, distinct from ErrNotFound.
	ErrNoCandidate = errors.New("no candidate available")
	// ErrExternalService marks a routing or transport failure. It is always
	// degraded locally and never surfaces from telemetry ingestion.
	ErrExternalService = errors.New("external service failed")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Authorizationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NoCandidatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNoCandidate, fmt.Sprintf(format, args...))
}

// External wraps err as an external-service failure, keeping the cause chain.
func External(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalService, op, err)
}
