// Package ai orchestrates content generation and output parsing.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/studycoach/pkg/models"
)

const (
	maxPromptChars = 160
	minValidCards  = 3
	maxHintChars   = 100
)

const systemInstructions = `You are an expert study coach. Generate high-quality flash cards as pure JSON only. Do not include markdown, backticks, or commentary. The JSON shape must be: {
  "title": string,
  "topic": string | null,
  "difficulty": one of ["easy","medium","hard"],
  "cards": [
    {
      "prompt": string (<= 160 chars),
      "correspondingInformation": string (2-6 sentences),
      "hint": string | null
    }
  ]
}
Prompts must be concise; information must be accurate and self-contained.`

const repairInstructions = `Your previous response could not be parsed. Respond with ONLY a single valid JSON object matching the required shape. No surrounding text, no code fences, no trailing commas.`

// FlashcardService turns generation parameters into a validated flash-card
// set by prompting an injected ContentGenerator and parsing its raw text.
type FlashcardService struct {
	generator models.ContentGenerator
	timeout   time.Duration
}

// NewFlashcardService creates a new FlashcardService.
func NewFlashcardService(generator models.ContentGenerator, timeout time.Duration) *FlashcardService {
	return &FlashcardService{generator: generator, timeout: timeout}
}

// Provider returns the underlying generator's identifier.
func (s *FlashcardService) Provider() string {
	return s.generator.Name()
}

// Generate runs one generation attempt. repairPass > 0 means a previous
// attempt produced unparseable output and the prompt carries stricter
// formatting instructions. Returns ErrMalformedOutput when the model text
// cannot be coerced into enough valid cards.
func (s *FlashcardService) Generate(ctx context.Context, params models.GenerationParams, repairPass int) (*models.FlashCardSet, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.generator.Generate(genCtx, buildPrompt(params, repairPass))
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrGeneratorTimeout, err)
		}
		return nil, err
	}

	set, err := parseFlashCardSet(text, params)
	if err != nil {
		return nil, err
	}
	set.Provider = s.generator.Name()
	return set, nil
}

func buildPrompt(params models.GenerationParams, repairPass int) string {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n\n")
	if repairPass > 0 {
		b.WriteString(repairInstructions)
		b.WriteString("\n\n")
	}

	title := params.MaterialTitle
	if title == "" {
		title = "Flash Cards"
	}
	topic := params.Topic
	if topic == "" {
		topic = "general"
	}

	fmt.Fprintf(&b, "Create %d flash cards at %s difficulty.\n", params.NumCards, params.Difficulty)
	fmt.Fprintf(&b, "Title (if helpful): %s.\n", title)
	fmt.Fprintf(&b, "Topic: %s.\n", topic)
	b.WriteString("Use the following study material context to ensure accuracy and specificity:\n\n")
	b.WriteString(params.Context)
	return b.String()
}

// parseFlashCardSet decodes the model text into a FlashCardSet, tolerating
// code fences and stray commentary around the JSON object.
func parseFlashCardSet(text string, params models.GenerationParams) (*models.FlashCardSet, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput)
	}

	var decoded struct {
		Title      string  `json:"title"`
		Topic      *string `json:"topic"`
		Difficulty string  `json:"difficulty"`
		Cards      []struct {
			Prompt                   string  `json:"prompt"`
			CorrespondingInformation string  `json:"correspondingInformation"`
			Hint                     *string `json:"hint"`
		} `json:"cards"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	cards := make([]models.FlashCard, 0, len(decoded.Cards))
	for _, c := range decoded.Cards {
		prompt := strings.TrimSpace(c.Prompt)
		info := strings.TrimSpace(c.CorrespondingInformation)
		if prompt == "" || info == "" {
			continue
		}
		cards = append(cards, models.FlashCard{
			Prompt:                   truncateString(prompt, maxPromptChars),
			CorrespondingInformation: info,
			Hint:                     ensureHint(c.Hint, info, prompt),
		})
	}
	if len(cards) < minValidCards {
		return nil, fmt.Errorf("%w: only %d valid cards", ErrMalformedOutput, len(cards))
	}
	if params.NumCards > 0 && len(cards) > params.NumCards {
		cards = cards[:params.NumCards]
	}

	title := strings.TrimSpace(decoded.Title)
	if title == "" {
		title = params.MaterialTitle
	}
	if title == "" {
		title = "Flash Cards"
	}

	difficulty := decoded.Difficulty
	if !models.ValidDifficulty(difficulty) {
		difficulty = params.Difficulty
	}

	topic := decoded.Topic
	if topic != nil {
		trimmed := strings.TrimSpace(*topic)
		if trimmed == "" {
			topic = nil
		} else {
			topic = &trimmed
		}
	}

	return &models.FlashCardSet{
		Title:      title,
		Topic:      topic,
		Difficulty: difficulty,
		Cards:      cards,
	}, nil
}

// extractJSONObject returns the outermost {...} span of text, or "".
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// ensureHint guarantees a non-empty hint, deriving one from the first
// sentence of the information or from the prompt.
func ensureHint(hint *string, info, prompt string) *string {
	if hint != nil {
		if trimmed := strings.TrimSpace(*hint); trimmed != "" {
			return &trimmed
		}
	}
	base := info
	if idx := strings.Index(info, ". "); idx != -1 {
		base = info[:idx]
	}
	if base == "" {
		base = prompt
	}
	derived := truncateString(strings.TrimSpace(base), maxHintChars)
	return &derived
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
