package errcode

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	err := New(Network, "feed unreachable")
	if CodeOf(err) != Network {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), Network)
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain errors carry no code")
	}
	if CodeOf(nil) != "" {
		t.Error("nil carries no code")
	}

	// The code survives wrapping by callers.
	wrapped := fmt.Errorf("during check: %w", err)
	if !Is(wrapped, Network) {
		t.Error("code should be visible through fmt.Errorf wrapping")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Network, cause, "fetching manifest")
	if !errors.Is(err, cause) {
		t.Error("Wrap must keep the cause reachable via errors.Is")
	}
	if CodeOf(err) != Network {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), Network)
	}
}

func TestIsCancelled(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"coded cancellation", New(Cancelled, "stopped"), true},
		{"context cancellation", context.Canceled, true},
		{"wrapped context cancellation", fmt.Errorf("range request: %w", context.Canceled), true},
		{"network error", New(Network, "reset"), false},
		{"deadline is not cancellation", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		if got := IsCancelled(tc.err); got != tc.want {
			t.Errorf("%s: IsCancelled = %v, want %v", tc.name, got, tc.want)
		}
	}
}
