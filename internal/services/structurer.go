package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/studyowl/studyowl-backend/internal/clients/openai"
	"github.com/studyowl/studyowl-backend/internal/logger"
	apperr "github.com/studyowl/studyowl-backend/internal/pkg/errors"
)

// ContentStructurer is the optional AI pass that reorganizes raw extracted
// text into sections/summary form. Structure never fails the caller: any
// model problem (timeout, API error, empty output) falls back to the raw
// input unchanged.
type ContentStructurer interface {
	Structure(ctx context.Context, text string, language string) string
}

type contentStructurer struct {
	log      *logger.Logger
	ai       openai.Client
	maxChars int
	timeout  time.Duration
}

const (
	DefaultStructurerMaxChars = 24000
	DefaultStructurerTimeout  = 60 * time.Second
)

func NewContentStructurer(baseLog *logger.Logger, ai openai.Client, maxChars int, timeout time.Duration) ContentStructurer {
	if maxChars <= 0 {
		maxChars = DefaultStructurerMaxChars
	}
	if timeout <= 0 {
		timeout = DefaultStructurerTimeout
	}
	return &contentStructurer{
		log:      baseLog.With("service", "ContentStructurer"),
		ai:       ai,
		maxChars: maxChars,
		timeout:  timeout,
	}
}

const structurerSystemPrompt = `You reorganize raw course material into clean, well-structured study text.
Group related content into titled sections, keep every fact from the input, and do not invent content.
Reply with the restructured text only, in the requested language.`

func (s *contentStructurer) Structure(ctx context.Context, text string, language string) string {
	raw := text
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	if s.ai == nil {
		return raw
	}

	input := raw
	if len(input) > s.maxChars {
		if runes := []rune(input); len(runes) > s.maxChars {
			s.log.Warn("Truncating structurer input", "input_chars", len(runes), "max_chars", s.maxChars)
			input = string(runes[:s.maxChars])
		}
	}
	if language == "" {
		language = "en"
	}

	cctx, cancel := context.WithTimeout(defaultCtx(ctx), s.timeout)
	defer cancel()

	out, err := s.ai.GenerateText(cctx, structurerSystemPrompt, fmt.Sprintf("Language: %s\n\n%s", language, input))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", apperr.ErrGenerationTimeout, err)
		}
		s.log.Warn("Content structuring failed; falling back to raw text", "error", err)
		return raw
	}
	if strings.TrimSpace(out) == "" {
		s.log.Warn("Content structuring returned empty output; falling back to raw text")
		return raw
	}
	return out
}

func defaultCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
