package events

import (
	"context"
	"testing"

	"stockdispatch/internal/ports"
)

func TestSubject(t *testing.T) {
	cases := []struct {
		base   string
		status string
		want   string
	}{
		{base: "", status: "distributed", want: "stockdispatch.runs.distributed"},
		{base: "acme.dispatch.", status: "manifest-loaded", want: "acme.dispatch.manifest-loaded"},
		{base: "acme", status: " ", want: "acme"},
	}
	for _, tc := range cases {
		if got := Subject(tc.base, tc.status); got != tc.want {
			t.Fatalf("Subject(%q, %q) = %q, want %q", tc.base, tc.status, got, tc.want)
		}
	}
}

func TestLogPublisherNeverFails(t *testing.T) {
	err := LogPublisher{}.PublishRunEvent(context.Background(), ports.RunEvent{RunID: "run-1", FromStatus: "draft", ToStatus: "manifest-loaded"})
	if err != nil {
		t.Fatalf("PublishRunEvent() error = %v", err)
	}
}

func TestNewNATSPublisherUnreachable(t *testing.T) {
	if _, err := NewNATSPublisher("nats://127.0.0.1:1", ""); err == nil {
		t.Fatalf("NewNATSPublisher() expected connection error")
	}
}
