package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/studycoach/pkg/models"
)

// MockProvider satisfies models.ContentGenerator for testing and local
// development without a real model.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

// NewProvider returns a MockProvider that emits a deterministic valid
// flash-card set.
func NewProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ string) (string, error) {
			var cards []string
			for i := 1; i <= 5; i++ {
				cards = append(cards, fmt.Sprintf(
					`{"prompt":"Mock question %d?","correspondingInformation":"Mock answer %d. It is deterministic test content.","hint":"mock hint"}`, i, i))
			}
			return fmt.Sprintf(
				`{"title":"Mock Set","topic":"testing","difficulty":"easy","cards":[%s]}`,
				strings.Join(cards, ",")), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ string) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is
// cancelled and surfaces the context error, which callers classify as a
// generation timeout.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}

// Compile-time check that MockProvider implements ContentGenerator.
var _ models.ContentGenerator = (*MockProvider)(nil)
