package model

import (
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	got := Summarize([]MessageResult{
		{ContactID: "1", Success: true},
		{ContactID: "2", Success: false, Error: "x"},
		{ContactID: "3", Success: true},
	})

	if got.Total != 3 || got.Successful != 2 || got.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if got.Successful+got.Failed != got.Total {
		t.Fatalf("summary does not add up: %+v", got)
	}
}

func TestSummarize_Empty(t *testing.T) {
	if got := Summarize(nil); got != (Summary{}) {
		t.Fatalf("expected zero summary, got %+v", got)
	}
}

func TestDeliveryConfig_WithDefaults(t *testing.T) {
	got := DeliveryConfig{}.WithDefaults()

	if got.BatchSize != 50 {
		t.Fatalf("expected batch size 50, got %d", got.BatchSize)
	}
	if got.MessageDelay != 2*time.Second {
		t.Fatalf("expected message delay 2s, got %v", got.MessageDelay)
	}
	if got.BatchDelay != 5*time.Second {
		t.Fatalf("expected batch delay 5s, got %v", got.BatchDelay)
	}
	if got.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", got.MaxRetries)
	}
	if got.Backend != BackendAutomation {
		t.Fatalf("expected automation backend, got %q", got.Backend)
	}

	custom := DeliveryConfig{BatchSize: 10, MaxRetries: 1, Backend: BackendAPI}.WithDefaults()
	if custom.BatchSize != 10 || custom.MaxRetries != 1 || custom.Backend != BackendAPI {
		t.Fatalf("expected explicit values kept, got %+v", custom)
	}
}

func TestAttachment_Location(t *testing.T) {
	if got := (Attachment{Name: "a.pdf"}).Location(); got != "a.pdf" {
		t.Fatalf("expected name fallback, got %q", got)
	}
	if got := (Attachment{Name: "a.pdf", Path: "/tmp/a.pdf"}).Location(); got != "/tmp/a.pdf" {
		t.Fatalf("expected path, got %q", got)
	}
}
