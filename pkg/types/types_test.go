package types

import "testing"

func TestPreloadStatus_String(t *testing.T) {
	tests := []struct {
		status PreloadStatus
		want   string
	}{
		{StatusIdle, "idle"},
		{StatusLoading, "loading"},
		{StatusLoaded, "loaded"},
		{StatusError, "error"},
		{StatusCancelled, "cancelled"},
		{PreloadStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestPreloadStatus_Terminal(t *testing.T) {
	terminal := map[PreloadStatus]bool{
		StatusIdle:      false,
		StatusLoading:   false,
		StatusLoaded:    true,
		StatusError:     true,
		StatusCancelled: true,
	}

	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}
