package version

import "testing"

func TestString(t *testing.T) {
	t.Parallel()

	if got, want := String(), "concierge dev (commit unknown, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
