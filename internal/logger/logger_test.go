package logger

import "testing"

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"production", "prod", "development", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.With("mode", mode).Debug("test message", "key", 1)
		l.Sync()
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := Nop()
	if OrNop(l) != l {
		t.Error("OrNop replaced a non-nil logger")
	}
	OrNop(nil).Info("discarded")
}
