package services

import (
	"context"
	"testing"
)

func TestContextHelpersRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithUserID(ctx, 42)
	ctx = WithJobID(ctx, "job-1")
	ctx = WithFileID(ctx, "abc")
	ctx = WithStage(ctx, "download")
	ctx = WithRequestID(ctx, "req-9")

	if id, ok := UserIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("user id = %d, %v", id, ok)
	}
	if id, ok := JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("job id = %q, %v", id, ok)
	}
	if id, ok := FileIDFromContext(ctx); !ok || id != "abc" {
		t.Fatalf("file id = %q, %v", id, ok)
	}
	if stage, ok := StageFromContext(ctx); !ok || stage != "download" {
		t.Fatalf("stage = %q, %v", stage, ok)
	}
	if rid, ok := RequestIDFromContext(ctx); !ok || rid != "req-9" {
		t.Fatalf("request id = %q, %v", rid, ok)
	}
}

func TestEmptyValuesAreIgnored(t *testing.T) {
	ctx := WithStage(context.Background(), "")
	ctx = WithJobID(ctx, "")
	if _, ok := StageFromContext(ctx); ok {
		t.Fatal("expected empty stage to be ignored")
	}
	if _, ok := JobIDFromContext(ctx); ok {
		t.Fatal("expected empty job id to be ignored")
	}
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatal("expected missing user id")
	}
}
