package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/studyowl/studyowl-backend/internal/logger"
)

type fakeAIClient struct {
	mu          sync.Mutex
	generateOut string
	generateErr error
	embedErr    error
	embedCalls  int
	lastSystem  string
	lastUser    string
	delay       time.Duration
}

func (f *fakeAIClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(i), 1.0}
	}
	return out, nil
}

func (f *fakeAIClient) GenerateText(ctx context.Context, system string, user string) (string, error) {
	f.lastSystem = system
	f.lastUser = user
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.generateOut, f.generateErr
}

func TestStructureReturnsModelOutput(t *testing.T) {
	ai := &fakeAIClient{generateOut: "## Section 1\nstructured"}
	s := NewContentStructurer(logger.NewNop(), ai, 0, 0)

	got := s.Structure(context.Background(), "raw text body", "de")
	if got != "## Section 1\nstructured" {
		t.Fatalf("got %q, want model output", got)
	}
	if !strings.Contains(ai.lastUser, "Language: de") {
		t.Fatalf("prompt missing language hint: %q", ai.lastUser)
	}
	if !strings.Contains(ai.lastUser, "raw text body") {
		t.Fatalf("prompt missing input text: %q", ai.lastUser)
	}
}

func TestStructureFallsBackOnError(t *testing.T) {
	ai := &fakeAIClient{generateErr: errors.New("api down")}
	s := NewContentStructurer(logger.NewNop(), ai, 0, 0)

	raw := "keep me as-is"
	if got := s.Structure(context.Background(), raw, ""); got != raw {
		t.Fatalf("got %q, want raw text fallback", got)
	}
}

func TestStructureFallsBackOnTimeout(t *testing.T) {
	ai := &fakeAIClient{generateOut: "never delivered", delay: time.Second}
	s := NewContentStructurer(logger.NewNop(), ai, 0, 10*time.Millisecond)

	raw := "slow model, raw text wins"
	if got := s.Structure(context.Background(), raw, "en"); got != raw {
		t.Fatalf("got %q, want raw text fallback", got)
	}
}

func TestStructureFallsBackOnEmptyOutput(t *testing.T) {
	ai := &fakeAIClient{generateOut: "   \n"}
	s := NewContentStructurer(logger.NewNop(), ai, 0, 0)

	raw := "original"
	if got := s.Structure(context.Background(), raw, "en"); got != raw {
		t.Fatalf("got %q, want raw text fallback", got)
	}
}

func TestStructureTruncatesLongInput(t *testing.T) {
	ai := &fakeAIClient{generateOut: "ok"}
	s := NewContentStructurer(logger.NewNop(), ai, 500, 0)

	s.Structure(context.Background(), strings.Repeat("a", 2000), "en")
	if len(ai.lastUser) > 600 {
		t.Fatalf("prompt not truncated, %d chars", len(ai.lastUser))
	}
}

func TestStructureTruncatesMultiByteInput(t *testing.T) {
	ai := &fakeAIClient{generateOut: "ok"}
	s := NewContentStructurer(logger.NewNop(), ai, 500, 0)

	s.Structure(context.Background(), strings.Repeat("ü", 2000), "de")
	if !utf8.ValidString(ai.lastUser) {
		t.Fatalf("truncated prompt contains invalid UTF-8")
	}
	if n := utf8.RuneCountInString(ai.lastUser); n > 600 {
		t.Fatalf("prompt not truncated, %d runes", n)
	}
}

func TestStructureEmptyInputSkipsModel(t *testing.T) {
	ai := &fakeAIClient{generateOut: "should not be used"}
	s := NewContentStructurer(logger.NewNop(), ai, 0, 0)

	if got := s.Structure(context.Background(), "  ", "en"); got != "  " {
		t.Fatalf("got %q, want input unchanged", got)
	}
	if ai.lastUser != "" {
		t.Fatalf("model called for empty input")
	}
}
