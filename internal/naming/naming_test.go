package naming

import (
	"testing"

	"autorename/internal/cascade"
	"autorename/internal/transport"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		template     string
		input        string
		want         string
		wantAdvisory bool
	}{
		{"bare placeholders", "Show S01 - episode [quality]", "Show.S01E02.720p.mkv", "Show S01 - 02 [720p]", false},
		{"braced placeholders", "Show E{episode} {quality}", "Show S01 - EP02 1080p.mkv", "Show E02 1080p", false},
		{"each spelling once", "episode episode Episode", "S01E05", "05 episode 05", false},
		{"quality replaced everywhere", "quality-quality", "x 480p", "480p-480p", false},
		{"unknown quality advisory", "Show episode quality", "Show - 12.mkv", "Show 12 Unknown", true},
		{"no quality placeholder", "Show episode", "Show - 12.mkv", "Show 12", false},
		{"missing episode keeps placeholder", "Show episode QUALITY", "Some Movie [HDRip].mkv", "Show episode HdRip", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.template, cascade.Analyze(tt.input))
			if got.Name != tt.want {
				t.Fatalf("Resolve() name = %q, want %q", got.Name, tt.want)
			}
			if got.QualityAdvisory != tt.wantAdvisory {
				t.Fatalf("Resolve() advisory = %v, want %v", got.QualityAdvisory, tt.wantAdvisory)
			}
		})
	}
}

func TestOutputFileName(t *testing.T) {
	tests := []struct {
		resolved string
		original string
		want     string
	}{
		{"Show S01 - 02 [720p]", "Show.S01E02.720p.mkv", "Show S01 - 02 [720p].mkv"},
		{"a/b", "x.mp4", "a-b.mp4"},
		{"", "orig.name.mkv", "orig.name.mkv"},
		{"Show", "noext", "Show"},
	}
	for _, tt := range tests {
		if got := OutputFileName(tt.resolved, tt.original); got != tt.want {
			t.Fatalf("OutputFileName(%q, %q) = %q, want %q", tt.resolved, tt.original, got, tt.want)
		}
	}
}

func TestCaption(t *testing.T) {
	if got := Caption("", "a.mkv", 10, true); got != "**a.mkv**" {
		t.Fatalf("default caption = %q", got)
	}
	if got := Caption("{filename} | {filesize}", "a.mkv", 1536, true); got != "a.mkv | 1.5 KiB" {
		t.Fatalf("formatted caption = %q", got)
	}
	if got := Caption("{filesize} {other}", "a.mkv", 0, false); got != "Unknown {other}" {
		t.Fatalf("unknown size caption = %q", got)
	}
}

func TestDefaultFileName(t *testing.T) {
	id := "0123456789abcdef"
	tests := map[transport.MediaKind]string{
		transport.KindVideo:    "video_01234567.mp4",
		transport.KindAudio:    "audio_01234567.mp3",
		transport.KindDocument: "document_01234567",
	}
	for kind, want := range tests {
		if got := DefaultFileName(kind, id); got != want {
			t.Fatalf("DefaultFileName(%s) = %q, want %q", kind, got, want)
		}
	}
}

func TestDeliveryKind(t *testing.T) {
	tests := []struct {
		inbound    transport.MediaKind
		preference string
		want       transport.MediaKind
	}{
		{transport.KindDocument, "", transport.KindDocument},
		{transport.KindVideo, "", transport.KindVideo},
		{transport.KindAudio, "", transport.KindDocument},
		{transport.KindDocument, "video", transport.KindVideo},
		{transport.KindVideo, "document", transport.KindDocument},
		{transport.KindAudio, "bogus", transport.KindDocument},
	}
	for _, tt := range tests {
		if got := DeliveryKind(tt.inbound, tt.preference); got != tt.want {
			t.Fatalf("DeliveryKind(%s, %q) = %s, want %s", tt.inbound, tt.preference, got, tt.want)
		}
	}
}
