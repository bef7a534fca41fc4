package gemini

import (
	"fmt"
	"os"
	"strings"

	"github.com/phrazzld/moments-api/internal/inference"
)

// DefaultVisionSystemPrompt constrains the vision model to observable facts.
const DefaultVisionSystemPrompt = "You are an image fact-extraction assistant. " +
	"Describe only what is strictly visible in the image: objects, people, actions, " +
	"text, numbers, colors, and spatial layout."

// TextSystemPrompt frames the text model's task.
const TextSystemPrompt = "You are a helpful assistant that reasons over text and extracted image details."

// loadPrompt reads a prompt file. An empty path yields fallback.
func loadPrompt(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read prompt from %s: %v", inference.ErrInvalidConfig, path, err)
	}
	prompt := strings.TrimSpace(string(content))
	if prompt == "" {
		return fallback, nil
	}
	return prompt, nil
}
