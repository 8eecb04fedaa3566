// Package ingest feeds raw documentation into the retrieval index:
// chunk → embed → upsert.
package ingest

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig configures the text chunker.
type ChunkerConfig struct {
	ChunkSize    int    // target chunk size in characters (default 512)
	ChunkOverlap int    // overlap between chunks (default 50)
	Separator    string // preferred separator to split on (default "\n\n")
}

// DefaultChunkerConfig returns sensible defaults for recursive splitting.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{ChunkSize: 512, ChunkOverlap: 50, Separator: "\n\n"}
}

// SplitText splits text into overlapping chunks, trying separators from
// coarse to fine until segments fit the target size.
func SplitText(text string, config ChunkerConfig) []string {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 512
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}

	if utf8.RuneCountInString(text) <= config.ChunkSize {
		return []string{text}
	}

	separators := []string{"\n\n", "\n", ". ", " ", ""}
	if config.Separator != "" {
		separators = append([]string{config.Separator}, separators...)
	}

	return recursiveSplit(text, separators, config.ChunkSize, config.ChunkOverlap)
}

func recursiveSplit(text string, separators []string, chunkSize, overlap int) []string {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []string{text}
	}

	var segments []string
	var usedSep string
	for _, sep := range separators {
		if sep == "" {
			segments = splitByRunes(text, chunkSize)
			break
		}
		parts := strings.Split(text, sep)
		if len(parts) > 1 {
			segments = parts
			usedSep = sep
			break
		}
	}
	if len(segments) == 0 {
		return []string{text}
	}

	// Merge segments back into chunks near the target size, carrying an
	// overlap tail between consecutive chunks.
	var chunks []string
	var current strings.Builder
	for _, seg := range segments {
		candidate := current.String()
		if candidate != "" {
			candidate += usedSep
		}
		candidate += seg

		if utf8.RuneCountInString(candidate) > chunkSize && current.Len() > 0 {
			chunks = append(chunks, current.String())

			tail := overlapTail(current.String(), overlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		} else {
			if current.Len() > 0 {
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// overlapTail returns the last n runes of s.
func overlapTail(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

// splitByRunes splits text into segments of n runes each.
func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}
