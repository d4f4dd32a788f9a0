package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks user-correctable input problems.
	ErrValidation = errors.New("validation failed")
	// ErrSessionNotFound is returned when no session has the given id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAlreadySigned is returned when the session was signed by an earlier
	// (or concurrent) submission.
	ErrAlreadySigned = errors.New("session already signed")
	// ErrNotYetSigned is returned when a document is requested for a pending
	// session.
	ErrNotYetSigned = errors.New("session not yet signed")
	// ErrBackupChannelFailed wraps a single channel failure in the backup
	// pipeline. It is logged, never returned to a signer.
	ErrBackupChannelFailed = errors.New("backup channel failed")
	// ErrStagingFailed wraps render or publish failures during staging.
	ErrStagingFailed = errors.New("staging failed")
)

// ValidationError lists the offending fields.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Reason, strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
