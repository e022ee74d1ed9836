package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool     = errors.New("external tool error")
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrDenied           = errors.New("denied")
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient failure")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Class is the user-facing failure category of an error.
type Class string

const (
	ClassNone          Class = ""
	ClassConfiguration Class = "configuration"
	ClassDenied        Class = "denied"
	ClassTransient     Class = "transient"
	ClassSoftTool      Class = "soft_tool"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
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

// Classify maps an error onto the failure categories surfaced to users.
// Unmarked errors are treated as transient.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrValidation):
		return ClassConfiguration
	case errors.Is(err, ErrDenied), errors.Is(err, ErrStoreUnavailable):
		return ClassDenied
	case errors.Is(err, ErrExternalTool):
		return ClassSoftTool
	default:
		return ClassTransient
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
