package ingest

import (
	"strings"
	"testing"
)

func TestSplitTextIsDeterministic(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 300)
	config := ChunkConfig{Size: 1000, Overlap: 100}

	first := SplitText(text, config)
	second := SplitText(text, config)

	if len(first) == 0 {
		t.Fatalf("expected chunks")
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
		if ContentHash(first[i]) != ContentHash(second[i]) {
			t.Fatalf("hash of chunk %d differs between runs", i)
		}
	}
}

func TestSplitTextOverlapsAdjacentChunks(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := SplitText(text, ChunkConfig{Size: 1000, Overlap: 200})

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 1000 {
		t.Fatalf("expected full first window, got %d chars", len(chunks[0]))
	}
	// Windows step by size-overlap: 0, 800, 1600.
	if len(chunks[2]) != 900 {
		t.Fatalf("expected 900-char tail, got %d chars", len(chunks[2]))
	}
}

func TestSplitTextSkipsBlankInput(t *testing.T) {
	if chunks := SplitText("   \n\t  ", DefaultChunkConfig()); chunks != nil {
		t.Fatalf("expected no chunks for blank input, got %d", len(chunks))
	}
	if chunks := SplitText("", DefaultChunkConfig()); chunks != nil {
		t.Fatalf("expected no chunks for empty input")
	}
}

func TestSplitTextShortInputSingleChunk(t *testing.T) {
	chunks := SplitText("short content", DefaultChunkConfig())
	if len(chunks) != 1 || chunks[0] != "short content" {
		t.Fatalf("expected single identity chunk, got %v", chunks)
	}
}
