package ingest_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudsecdocs/docschat/internal/ingest"
)

func TestSplitText_ShortTextIsOneChunk(t *testing.T) {
	chunks := ingest.SplitText("a short document", ingest.DefaultChunkerConfig())
	if len(chunks) != 1 || chunks[0] != "a short document" {
		t.Errorf("SplitText() = %v, want the text unchanged", chunks)
	}
}

func TestSplitText_SplitsOnParagraphs(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 10; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 30)) // ~150 chars each
	}
	text := strings.Join(paragraphs, "\n\n")

	cfg := ingest.ChunkerConfig{ChunkSize: 400, ChunkOverlap: 50, Separator: "\n\n"}
	chunks := ingest.SplitText(text, cfg)

	if len(chunks) < 2 {
		t.Fatalf("SplitText() produced %d chunks for a %d-char text, want several", len(chunks), len(text))
	}
	for i, c := range chunks {
		// A chunk may exceed the target only when a single segment does.
		if utf8.RuneCountInString(c) > cfg.ChunkSize+cfg.ChunkOverlap+len("\n\n") {
			t.Errorf("chunk %d has %d runes, want <= %d plus overlap", i, utf8.RuneCountInString(c), cfg.ChunkSize)
		}
	}
}

func TestSplitText_OverlapCarriesContext(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 6; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 30))
	}
	text := strings.Join(paragraphs, "\n\n")

	cfg := ingest.ChunkerConfig{ChunkSize: 300, ChunkOverlap: 40, Separator: "\n\n"}
	chunks := ingest.SplitText(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("need at least 2 chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])-cfg.ChunkOverlap:]
		if !strings.HasPrefix(chunks[i], prevTail) {
			t.Errorf("chunk %d does not start with the previous chunk's %d-rune tail", i, cfg.ChunkOverlap)
		}
	}
}

func TestSplitText_FallsBackToRunes(t *testing.T) {
	// No separator anywhere: one unbroken token forces the rune splitter.
	text := strings.Repeat("x", 1000)
	chunks := ingest.SplitText(text, ingest.ChunkerConfig{ChunkSize: 300, ChunkOverlap: 0})

	if len(chunks) < 3 {
		t.Fatalf("SplitText() = %d chunks, want at least 3", len(chunks))
	}
	var rejoined strings.Builder
	for _, c := range chunks {
		rejoined.WriteString(c)
	}
	if rejoined.String() != text {
		t.Error("rune-level chunks do not reassemble into the original text")
	}
}
