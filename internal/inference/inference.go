package inference

import (
	"context"
	"errors"

	"github.com/phrazzld/moments-api/internal/domain"
)

// Common errors returned by inference providers.
var (
	// ErrInvalidResponse is returned when a model response is empty or malformed.
	ErrInvalidResponse = errors.New("invalid response from model")

	// ErrContentBlocked is returned when the provider refuses the content.
	ErrContentBlocked = errors.New("content blocked by model safety filters")

	// ErrTransient is returned for temporary failures that may succeed on retry.
	ErrTransient = errors.New("transient model failure")

	// ErrInvalidConfig is returned when a provider is misconfigured.
	ErrInvalidConfig = errors.New("invalid model configuration")
)

// Usage holds the token counters reported for one model call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// VisionModel extracts a textual description from an image.
type VisionModel interface {
	DescribeImage(ctx context.Context, image domain.Image) (string, Usage, error)
}

// TextModel produces a reply for a prompt.
type TextModel interface {
	Complete(ctx context.Context, prompt string) (string, Usage, error)

	// ModelName identifies the model for history records.
	ModelName() string
}
