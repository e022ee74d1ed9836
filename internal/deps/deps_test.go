package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheck(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", binDir)

	tests := []struct {
		name      string
		req       Requirement
		available bool
		command   string
		detail    string
	}{
		{name: "explicit path", req: Requirement{Name: "Present", Command: present}, available: true, command: present},
		{name: "fallback on path", req: Requirement{Name: "Present", Command: " ", Fallback: "present"}, available: true, command: present},
		{name: "missing", req: Requirement{Name: "Missing", Command: "clearly-not-present-binary"}, command: "clearly-not-present-binary", detail: `binary "clearly-not-present-binary" not found`},
		{name: "blank", req: Requirement{Name: "Blank", Command: "  "}, detail: "command not configured"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status := Check(tc.req)
			if status.Available != tc.available {
				t.Fatalf("available = %v, detail %q", status.Available, status.Detail)
			}
			if status.Command != tc.command {
				t.Fatalf("command = %q, want %q", status.Command, tc.command)
			}
			if status.Detail != tc.detail {
				t.Fatalf("detail = %q, want %q", status.Detail, tc.detail)
			}
		})
	}
}

func TestCheckFFmpegOnPath(t *testing.T) {
	binDir := t.TempDir()
	stub := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", binDir)

	status := CheckFFmpeg("ffmpeg")
	if !status.Available {
		t.Fatalf("expected ffmpeg to be available, got detail %q", status.Detail)
	}
	if status.Command != stub {
		t.Fatalf("command = %q, want %q", status.Command, stub)
	}
	if !status.Optional {
		t.Fatal("ffmpeg should be optional")
	}
}

func TestCheckFFmpegExplicitPath(t *testing.T) {
	dir := t.TempDir()
	notExec := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(notExec, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if status := CheckFFmpeg(notExec); status.Available {
		t.Fatal("non-executable file reported available")
	}
	if status := CheckFFmpeg(filepath.Join(dir, "missing")); status.Available || status.Detail == "" {
		t.Fatalf("missing path reported %#v", status)
	}
}

func TestCheckFFmpegMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	status := CheckFFmpeg("")
	if status.Available {
		t.Fatal("expected ffmpeg to be unavailable")
	}
	if status.Detail == "" {
		t.Fatal("expected detail for missing ffmpeg")
	}
}
