package models

// Difficulty levels accepted for generated study content.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// ValidDifficulty reports whether d is a recognized difficulty level.
func ValidDifficulty(d string) bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// FlashCard is a single prompt/answer pair within a generated set.
type FlashCard struct {
	Prompt                   string  `json:"prompt"`
	CorrespondingInformation string  `json:"correspondingInformation"`
	Hint                     *string `json:"hint,omitempty"`
}

// FlashCardSet is the structured result payload of a completed flash-card
// generation job.
type FlashCardSet struct {
	Title      string      `json:"title"`
	Topic      *string     `json:"topic,omitempty"`
	Difficulty string      `json:"difficulty"`
	Cards      []FlashCard `json:"cards"`
	Provider   string      `json:"provider"`
}
