package engine

import "testing"

func TestStripCompletionMarker_RoundTrip(t *testing.T) {
	outputs := []string{
		"# Design\n\nbody",
		"",
		"single line",
	}
	for _, output := range outputs {
		got := StripCompletionMarker(output + "\n" + CompletionMarker)
		if got != output {
			t.Errorf("StripCompletionMarker round trip = %q, want %q", got, output)
		}
	}
}

func TestStripCompletionMarker_NoMarker(t *testing.T) {
	text := "# Design\n\nbody\n"
	if got := StripCompletionMarker(text); got != text {
		t.Errorf("text without marker changed: %q", got)
	}
}

func TestStripCompletionMarker_MidText(t *testing.T) {
	got := StripCompletionMarker("part one\n" + CompletionMarker + "\npart two")
	if HasCompletionMarker(got) {
		t.Errorf("marker survived: %q", got)
	}
}

func TestHasCompletionMarker(t *testing.T) {
	if HasCompletionMarker("plain text") {
		t.Error("false positive")
	}
	if !HasCompletionMarker("text\n" + CompletionMarker + "\n") {
		t.Error("false negative")
	}
}
