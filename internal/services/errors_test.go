package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"relingo/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "separation", "demucs", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"separation", "demucs", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Category
	}{
		{"nil", nil, services.CategoryNone},
		{"transient", services.Wrap(services.ErrTransient, "translation", "request", "503", nil), services.CategoryTransient},
		{"timeout", services.Wrap(services.ErrTimeout, "render", "", "", nil), services.CategoryTransient},
		{"deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), services.CategoryTransient},
		{"external tool", services.Wrap(services.ErrExternalTool, "render", "ffmpeg", "", nil), services.CategoryTransient},
		{"input", services.Wrap(services.ErrInput, "synthesis", "", "missing transcript", nil), services.CategoryInput},
		{"validation", services.Wrap(services.ErrValidation, "", "", "", nil), services.CategoryInput},
		{"configuration", services.Wrap(services.ErrConfiguration, "", "", "", nil), services.CategoryInput},
		{"not found", services.Wrap(services.ErrNotFound, "", "", "", nil), services.CategoryInput},
		{"infrastructure", services.Wrap(services.ErrInfrastructure, "", "commit", "", nil), services.CategoryInfrastructure},
		{"cancelled marker", services.Wrap(services.ErrCancelled, "", "", "", nil), services.CategoryCancelled},
		{"context cancelled", fmt.Errorf("run: %w", context.Canceled), services.CategoryCancelled},
		{"unmarked", errors.New("unexpected"), services.CategoryTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestCategoryRetryable(t *testing.T) {
	if !services.CategoryTransient.Retryable() {
		t.Fatal("expected transient to be retryable")
	}
	for _, c := range []services.Category{services.CategoryInput, services.CategoryInfrastructure, services.CategoryCancelled} {
		if c.Retryable() {
			t.Fatalf("expected %q to be non-retryable", c)
		}
	}
}

func TestMarkerForRoundTripsThroughClassify(t *testing.T) {
	for _, c := range []services.Category{services.CategoryTransient, services.CategoryInput, services.CategoryInfrastructure, services.CategoryCancelled} {
		if got := services.Classify(services.MarkerFor(c)); got != c {
			t.Fatalf("MarkerFor(%q) classified as %q", c, got)
		}
		if got := services.ParseCategory(string(c)); got != c {
			t.Fatalf("ParseCategory(%q) = %q", c, got)
		}
	}
}
