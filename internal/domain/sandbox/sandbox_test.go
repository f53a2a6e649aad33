package sandbox_test

import (
	"testing"

	"github.com/Strob0t/ChainForge/internal/domain/sandbox"
)

func TestStatusIsLive(t *testing.T) {
	live := []sandbox.Status{sandbox.StatusCreated, sandbox.StatusRunning, sandbox.StatusStopped}
	for _, s := range live {
		if !s.IsLive() {
			t.Errorf("%s should be live", s)
		}
	}
	for _, s := range []sandbox.Status{sandbox.StatusRemoved, sandbox.StatusError} {
		if s.IsLive() {
			t.Errorf("%s should not be live", s)
		}
	}
}

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to sandbox.Status
		want     bool
	}{
		{sandbox.StatusCreated, sandbox.StatusRunning, true},
		{sandbox.StatusCreated, sandbox.StatusError, true},
		{sandbox.StatusRunning, sandbox.StatusStopped, true},
		{sandbox.StatusRunning, sandbox.StatusError, true},
		{sandbox.StatusRunning, sandbox.StatusRemoved, true},
		{sandbox.StatusStopped, sandbox.StatusRunning, true},
		{sandbox.StatusStopped, sandbox.StatusRemoved, true},
		{sandbox.StatusStopped, sandbox.StatusError, false},
		{sandbox.StatusError, sandbox.StatusRemoved, true},
		{sandbox.StatusError, sandbox.StatusRunning, false},
		{sandbox.StatusRemoved, sandbox.StatusRunning, false},
		{sandbox.StatusRemoved, sandbox.StatusCreated, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
