package execsession

import (
	"strconv"
	"strings"
	"testing"
)

func TestTruncatingCollectorSelfConsistentMarker(t *testing.T) {
	var b strings.Builder
	for b.Len() < 1024 {
		b.WriteString("0123456789")
	}
	input := b.String()[:1024]

	c := NewTruncatingCollector(32)
	c.Push([]byte(input))
	out, tokens := c.Finalize()

	if len(out) > 32 {
		t.Fatalf("output exceeds cap: %d bytes", len(out))
	}
	if tokens == nil || *tokens != 256 {
		t.Fatalf("expected original token count 256, got %v", tokens)
	}
	if !strings.Contains(out, "tokens truncated") {
		t.Fatalf("expected truncation marker in %q", out)
	}
}

func TestTruncatingCollectorNoTruncationBelowCap(t *testing.T) {
	c := NewTruncatingCollector(1024)
	c.Push([]byte("hello world"))
	out, tokens := c.Finalize()
	if out != "hello world" {
		t.Fatalf("got %q", out)
	}
	if tokens != nil {
		t.Fatalf("expected no truncation, got %v", tokens)
	}
}

func TestTruncatingCollectorChunkSizingInvariant(t *testing.T) {
	input := strings.Repeat("abcdefghij\n", 200)

	whole := NewTruncatingCollector(64)
	whole.Push([]byte(input))
	wantOut, wantTokens := whole.Finalize()

	chunked := NewTruncatingCollector(64)
	for i := 0; i < len(input); i += 7 {
		end := i + 7
		if end > len(input) {
			end = len(input)
		}
		chunked.Push([]byte(input[i:end]))
	}
	gotOut, gotTokens := chunked.Finalize()

	if gotOut != wantOut {
		t.Fatalf("chunked output differs:\n got: %q\nwant: %q", gotOut, wantOut)
	}
	if (gotTokens == nil) != (wantTokens == nil) || (gotTokens != nil && *gotTokens != *wantTokens) {
		t.Fatalf("chunked token count differs: got %v want %v", gotTokens, wantTokens)
	}
}

func TestTruncatingCollectorZeroCapWithInput(t *testing.T) {
	c := NewTruncatingCollector(0)
	c.Push([]byte(strings.Repeat("x", 40)))
	out, tokens := c.Finalize()
	want := "…" + strconv.Itoa(10) + " tokens truncated…"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
	if tokens == nil || *tokens != 10 {
		t.Fatalf("got %v want 10", tokens)
	}
}

func TestTruncatingCollectorZeroCapEmpty(t *testing.T) {
	c := NewTruncatingCollector(0)
	out, tokens := c.Finalize()
	if out != "" || tokens != nil {
		t.Fatalf("expected empty result, got %q %v", out, tokens)
	}
}
