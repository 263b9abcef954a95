package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRemote        = errors.New("media service error")
	ErrJobFailed     = errors.New("remote job failed")
	ErrJobCanceled   = errors.New("remote job canceled")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails is the log- and IPC-friendly summary of a wrapped error.
type ErrorDetails struct {
	Kind    string
	Message string
	Hint    string
}

// Details classifies err by its marker and returns an operator hint.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Kind(err), Message: err.Error()}
	switch details.Kind {
	case "remote":
		details.Hint = "check media service availability and credentials"
	case "job_failed":
		details.Hint = "inspect the remote task error detail logged for this job"
	case "job_canceled":
		details.Hint = "job was canceled remotely; resubmit the file if it is still needed"
	case "validation":
		details.Hint = "check the source file"
	case "configuration":
		details.Hint = "review config.toml and run 'mediaindex config validate'"
	case "not_found":
		details.Hint = "the remote object no longer exists"
	case "timeout":
		details.Hint = "the operation exceeded its deadline"
	default:
		details.Hint = "check logs for details"
	}
	return details
}

// Kind returns a short classification label for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrJobFailed):
		return "job_failed"
	case errors.Is(err, ErrJobCanceled):
		return "job_canceled"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRemote):
		return "remote"
	default:
		return "transient"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
