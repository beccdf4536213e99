package services

import "strings"

const (
	DefaultChunkSize    = 700
	DefaultChunkOverlap = 100
)

// SplitIntoChunks cuts text into passages of at most chunkSize characters,
// with overlap characters repeated between consecutive chunks so retrieval
// keeps context across boundaries. Order is significant: the caller persists
// the slice index alongside each vector. Whitespace-only chunks are dropped.
func SplitIntoChunks(text string, chunkSize int, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if chunkSize < 200 {
		chunkSize = 200
	}
	if overlap < 0 {
		overlap = 0
	}
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}

	// windows are rune-based so multi-byte text never splits mid-rune
	runes := []rune(text)
	out := []string{}
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		p := strings.TrimSpace(string(runes[start:end]))
		if p != "" {
			out = append(out, p)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
