package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yangwenmai/pagesmith/internal/model"
)

// DefaultGenerateTimeout bounds a single model call.
const DefaultGenerateTimeout = 120 * time.Second

// ErrEmptyOutput is returned when the model answers with no text.
var ErrEmptyOutput = errors.New("model returned empty output")

// GenerateRequest is the input of one generation. Previous is nil for a build
// and holds the whole current document for a revision.
type GenerateRequest struct {
	Brief       string
	Checks      []string
	Attachments []model.Attachment
	Previous    *string
}

// Generator turns a brief into a complete HTML document.
type Generator struct {
	model   ModelClient
	timeout time.Duration
}

// NewGenerator creates a generator. A non-positive timeout selects DefaultGenerateTimeout.
func NewGenerator(mc ModelClient, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	return &Generator{model: mc, timeout: timeout}
}

// Generate builds the prompt and makes one model call. It never retries.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	logger := log.Ctx(ctx).With().Bool("revision", req.Previous != nil).Logger()
	prompt := buildPrompt(logger, req)
	logger.Info().Str("brief", req.Brief).Int("prompt_bytes", len(prompt)).Msg("generating page")

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.model.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyOutput
	}
	logger.Info().Int("bytes", len(out)).Msg("generation complete")
	return out, nil
}
