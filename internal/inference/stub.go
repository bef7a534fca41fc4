package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/moments-api/internal/domain"
)

// StubModel is a deterministic offline provider for local development.
// It never calls out and reports usage proportional to its input.
type StubModel struct{}

// DescribeImage reports the image's media type and size.
func (StubModel) DescribeImage(_ context.Context, image domain.Image) (string, Usage, error) {
	summary := fmt.Sprintf("stub analysis of a %s image (%d bytes)", image.MIMEType, len(image.Data))
	return summary, usageFor(len(image.Data)/1024+1, len(summary)), nil
}

// Complete echoes the last line of the prompt.
func (StubModel) Complete(_ context.Context, prompt string) (string, Usage, error) {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	reply := "stub reply: " + lines[len(lines)-1]
	return reply, usageFor(len(prompt), len(reply)), nil
}

// ModelName implements TextModel.
func (StubModel) ModelName() string {
	return "stub"
}

func usageFor(in, out int) Usage {
	return Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}
