package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ChunkConfig defines the sliding-window chunking parameters.
type ChunkConfig struct {
	// Size is the window length in characters.
	Size int
	// Overlap is the number of characters shared by adjacent chunks.
	Overlap int
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Size: 3000, Overlap: 200}
}

// SplitText deterministically splits text into overlapping windows.
// The same input always yields the same chunks, which keeps content
// hashes stable across re-ingestion runs.
func SplitText(text string, config ChunkConfig) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if config.Size <= 0 {
		config = DefaultChunkConfig()
	}
	step := config.Size - config.Overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + config.Size
		if end > len(text) {
			end = len(text)
		}
		chunk := text[start:end]
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(text) {
			break
		}
	}
	return chunks
}

// ContentHash returns the hex SHA-256 of the chunk content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
