package format

import (
	"testing"

	"github.com/patrick91/metamist/internal/model"
)

func TestBytes(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0 Bytes"},
		{1, "1 Bytes"},
		{512, "512 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{2048, "2 KB"},
		{1024 * 1024, "1 MB"},
		{1598896128, "1.49 GB"},
	}
	for _, c := range cases {
		if got := Bytes(c.in); got != c.want {
			t.Errorf("Bytes(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValueScalars(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"", ""},
		{"hello", "hello"},
		{float64(5), "5"},
		{float64(2.5), "2.5"},
		{true, "true"},
	}
	for _, c := range cases {
		if got := Any(c.in); got != c.want {
			t.Errorf("Any(%#v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValueFile(t *testing.T) {
	got := Any(map[string]any{"location": "gs://x", "size": float64(2048)})
	if got != "gs://x (2 KB)" {
		t.Errorf("file value = %q", got)
	}
}

func TestValueList(t *testing.T) {
	got := Any([]any{"a", float64(1), map[string]any{"location": "gs://y", "size": float64(1024)}})
	want := "a, 1, gs://y (1 KB)"
	if got != want {
		t.Errorf("list value = %q, want %q", got, want)
	}
}

func TestValueMapFallback(t *testing.T) {
	// A map without a file shape dumps structurally rather than failing.
	got := Any(map[string]any{"reads": float64(2)})
	if got != `{"reads":2}` {
		t.Errorf("map value = %q", got)
	}
}

func TestValueClassifiedOnce(t *testing.T) {
	v := model.ParseMeta(map[string]any{"location": "gs://z", "size": float64(0)})
	if v.Kind != model.ValueFile {
		t.Fatalf("kind = %v, want file", v.Kind)
	}
	if got := Value(v); got != "gs://z (0 Bytes)" {
		t.Errorf("zero-size file = %q", got)
	}
}

func TestExternalIDs(t *testing.T) {
	got := ExternalIDs(map[string]string{"": "XP01", "seqr": "S-22", "broad": "B-9"})
	want := "XP01, B-9 (broad), S-22 (seqr)"
	if got != want {
		t.Errorf("ExternalIDs = %q, want %q", got, want)
	}

	if got := ExternalIDs(nil); got != "" {
		t.Errorf("empty map = %q", got)
	}
}

func TestCost(t *testing.T) {
	if got := Cost(0); got != "$0.00" {
		t.Errorf("Cost(0) = %q", got)
	}
	if got := Cost(2.5); got != "$2.50" {
		t.Errorf("Cost(2.5) = %q", got)
	}
}
