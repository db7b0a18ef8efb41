package version

import "testing"

func TestString(t *testing.T) {
	got := String()
	want := "kabu-alerts dev (unknown, built unknown)"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
