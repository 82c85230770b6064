package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient      = errors.New("transient failure")
	ErrTimeout        = errors.New("timeout")
	ErrExternalTool   = errors.New("external tool error")
	ErrInput          = errors.New("input error")
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrInfrastructure = errors.New("infrastructure failure")
	ErrCancelled      = errors.New("cancelled")
)

// Category is the failure class the orchestrator acts on.
type Category string

const (
	CategoryNone           Category = ""
	CategoryTransient      Category = "transient"
	CategoryInput          Category = "input"
	CategoryInfrastructure Category = "infrastructure"
	CategoryCancelled      Category = "cancelled"
)

// Retryable reports whether a failure of this category may be attempted again.
func (c Category) Retryable() bool {
	return c == CategoryTransient
}

// ParseCategory converts a persisted category string back to a Category.
func ParseCategory(value string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(value))) {
	case CategoryTransient:
		return CategoryTransient
	case CategoryInput:
		return CategoryInput
	case CategoryInfrastructure:
		return CategoryInfrastructure
	case CategoryCancelled:
		return CategoryCancelled
	default:
		return CategoryNone
	}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
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

// Classify maps an executor or orchestration error onto a Category.
// Unmarked errors are treated as transient so they stay bounded by the
// attempt limit instead of failing a branch outright.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, ErrInfrastructure):
		return CategoryInfrastructure
	case errors.Is(err, ErrInput),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound):
		return CategoryInput
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	default:
		return CategoryTransient
	}
}

// MarkerFor returns the sentinel error that represents a category.
func MarkerFor(category Category) error {
	switch category {
	case CategoryInput:
		return ErrInput
	case CategoryInfrastructure:
		return ErrInfrastructure
	case CategoryCancelled:
		return ErrCancelled
	default:
		return ErrTransient
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
