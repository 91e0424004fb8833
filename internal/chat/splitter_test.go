package chat

import (
	"strings"
	"testing"
)

func TestSplitShortText(t *testing.T) {
	t.Parallel()

	chunks := Split("status: all accruals posted", 100)
	if len(chunks) != 1 || chunks[0] != "status: all accruals posted" {
		t.Fatalf("expected single chunk, got %q", chunks)
	}
	if got := Split("   \n\n  ", 100); got != nil {
		t.Fatalf("expected nil for blank text, got %q", got)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	t.Parallel()

	p1 := strings.Repeat("a", 40)
	p2 := strings.Repeat("b", 40)
	p3 := strings.Repeat("c", 40)
	text := p1 + "\n\n" + p2 + "\n\n" + p3

	chunks := Split(text, 90)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != p1+"\n\n"+p2 {
		t.Fatalf("first chunk should pack two paragraphs, got %q", chunks[0])
	}
	if chunks[1] != p3 {
		t.Fatalf("second chunk should be the third paragraph, got %q", chunks[1])
	}
	for i, c := range chunks {
		if len([]rune(c)) > 90 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
	}
}

func TestSplitBreaksOversizedParagraphAtLines(t *testing.T) {
	t.Parallel()

	lines := []string{
		strings.Repeat("w", 30),
		strings.Repeat("x", 30),
		strings.Repeat("y", 30),
		strings.Repeat("z", 30),
	}
	text := strings.Join(lines, "\n")

	chunks := Split(text, 70)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != lines[0]+"\n"+lines[1] {
		t.Fatalf("first chunk: got %q", chunks[0])
	}
	if chunks[1] != lines[2]+"\n"+lines[3] {
		t.Fatalf("second chunk: got %q", chunks[1])
	}
}

func TestSplitHardCutsSingleLongLine(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("k", 25)
	chunks := Split(text, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %q", len(chunks), chunks)
	}
	if strings.Join(chunks, "") != text {
		t.Fatalf("hard cut lost content: %q", chunks)
	}
	for i, c := range chunks[:2] {
		if len([]rune(c)) != 10 {
			t.Fatalf("chunk %d should be exactly 10 runes, got %d", i, len([]rune(c)))
		}
	}
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	// 8 three-byte runes: byte length 24 would split at limit 10 if the
	// splitter counted bytes.
	text := strings.Repeat("日", 8)
	chunks := Split(text, 10)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("expected single chunk for 8 runes at limit 10, got %q", chunks)
	}
}
