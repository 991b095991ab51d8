package ai

import (
	"fmt"

	"github.com/kiranshivaraju/studycoach/internal/ai/gemini"
	"github.com/kiranshivaraju/studycoach/internal/ai/mock"
	"github.com/kiranshivaraju/studycoach/internal/ai/openai"
	"github.com/kiranshivaraju/studycoach/internal/config"
	"github.com/kiranshivaraju/studycoach/pkg/models"
)

// NewGenerator constructs the content generator selected by config.
// Called once at server startup; the handle is shared read-only afterwards.
func NewGenerator(cfg config.GeneratorConfig) (models.ContentGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.Timeout), nil
	case "gemini":
		return gemini.NewProvider(cfg.Gemini, cfg.Timeout), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q: must be one of openai, gemini, mock", cfg.Provider)
	}
}
