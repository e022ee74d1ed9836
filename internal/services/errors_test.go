package services_test

import (
	"errors"
	"strings"
	"testing"

	"autorename/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "mux", "ffmpeg", "failed", base)
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
	for _, fragment := range []string{"mux", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Class
	}{
		{"nil", nil, services.ClassNone},
		{"configuration", services.Wrap(services.ErrConfiguration, "naming", "template", "missing", nil), services.ClassConfiguration},
		{"validation", services.Wrap(services.ErrValidation, "api", "decode", "bad field", nil), services.ClassConfiguration},
		{"denied", services.Wrap(services.ErrDenied, "admission", "reserve", "no credits", nil), services.ClassDenied},
		{"store outage", services.Wrap(services.ErrStoreUnavailable, "admission", "reserve", "", errors.New("dial")), services.ClassDenied},
		{"tool", services.Wrap(services.ErrExternalTool, "mux", "ffmpeg", "", nil), services.ClassSoftTool},
		{"plain", errors.New("io"), services.ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
