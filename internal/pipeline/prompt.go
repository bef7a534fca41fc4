package pipeline

import (
	"strings"
	"text/template"
)

var promptTemplate = template.Must(template.New("prompt").Parse(
	"Below are the user text and image analysis:\nUser text:{{.UserText}}\nImage analysis:{{.VisionSummary}}",
))

// BuildPrompt renders the text model prompt from the user's text and the
// vision summary.
func BuildPrompt(userText, visionSummary string) (string, error) {
	var b strings.Builder
	err := promptTemplate.Execute(&b, struct {
		UserText      string
		VisionSummary string
	}{userText, visionSummary})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
