package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/inference"
)

// MockVisionModel implements inference.VisionModel.
type MockVisionModel struct {
	DescribeImageFn func(ctx context.Context, image domain.Image) (string, inference.Usage, error)

	// Defaults used when DescribeImageFn is nil.
	Summary string
	Usage   inference.Usage
	Err     error

	mu    sync.Mutex
	calls int
}

// DescribeImage implements inference.VisionModel.
func (m *MockVisionModel) DescribeImage(ctx context.Context, image domain.Image) (string, inference.Usage, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.DescribeImageFn != nil {
		return m.DescribeImageFn(ctx, image)
	}
	if m.Err != nil {
		return "", inference.Usage{}, m.Err
	}
	return m.Summary, m.Usage, nil
}

// Calls returns how many times DescribeImage ran.
func (m *MockVisionModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockTextModel implements inference.TextModel.
type MockTextModel struct {
	CompleteFn func(ctx context.Context, prompt string) (string, inference.Usage, error)

	// Defaults used when CompleteFn is nil.
	Reply string
	Usage inference.Usage
	Err   error
	Name  string

	mu      sync.Mutex
	prompts []string
}

// Complete implements inference.TextModel.
func (m *MockTextModel) Complete(ctx context.Context, prompt string) (string, inference.Usage, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, prompt)
	}
	if m.Err != nil {
		return "", inference.Usage{}, m.Err
	}
	return m.Reply, m.Usage, nil
}

// ModelName implements inference.TextModel.
func (m *MockTextModel) ModelName() string {
	if m.Name == "" {
		return "mock-text"
	}
	return m.Name
}

// Prompts returns every prompt received, in order.
func (m *MockTextModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
