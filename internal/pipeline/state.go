package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/inference"
)

// checkpointKey is the step extra field holding the State saved after the step.
const checkpointKey = "checkpoint"

// SavedImageResult is the vision output recorded once the image step settles.
type SavedImageResult struct {
	Summary string `json:"summary"`
}

// FinalResult is the result document of a completed moments_optimize task.
type FinalResult struct {
	OptimizedText string `json:"optimizedText"`
	VisionSummary string `json:"visionSummary"`
	ThumbPath     string `json:"thumbPath"`
}

// State accumulates the outputs of a task's steps. Fields tagged "-" are
// rebuilt from the task payload and never checkpointed, which keeps image
// bytes out of the step rows.
type State struct {
	Payload    domain.Payload  `json:"-"`
	RawPayload json.RawMessage `json:"-"`
	Image      *domain.Image   `json:"-"`

	ImageAccepted    bool              `json:"imageAccepted,omitempty"`
	VisionSummary    string            `json:"visionSummary,omitempty"`
	VisionUsage      *inference.Usage  `json:"visionUsage,omitempty"`
	SavedImageResult *SavedImageResult `json:"savedImageResult,omitempty"`
	Prompt           string            `json:"prompt,omitempty"`
	TextResult       string            `json:"textResult,omitempty"`
	TextUsage        *inference.Usage  `json:"textUsage,omitempty"`
	FinalResult      *FinalResult      `json:"finalResult,omitempty"`
}

// NewState builds the initial state from a task's payload.
func NewState(task *domain.Task) (State, error) {
	payload, err := domain.ParsePayload(task.Payload)
	if err != nil {
		return State{}, err
	}
	return State{Payload: payload, RawPayload: task.Payload}, nil
}

// Checkpoint encodes the persistable part of the state.
func (s State) Checkpoint() (json.RawMessage, error) {
	raw, err := encodeJSON(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return raw, nil
}

// RestoreStep merges the checkpoint stored in a completed step's extra into
// the state. Steps without a checkpoint leave the state unchanged. An image
// that was accepted before the checkpoint is decoded again from the payload.
func (s State) RestoreStep(extra json.RawMessage) (State, error) {
	if len(extra) == 0 {
		return s, nil
	}

	var fields map[string]json.RawMessage
	if err := decodeJSON(extra, &fields); err != nil {
		return s, fmt.Errorf("failed to decode step extra: %w", err)
	}
	checkpoint, ok := fields[checkpointKey]
	if !ok || len(checkpoint) == 0 || string(checkpoint) == "null" {
		return s, nil
	}

	restored := s
	if err := decodeJSON(checkpoint, &restored); err != nil {
		return s, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	if restored.ImageAccepted && restored.Image == nil {
		img, err := domain.DecodeImage(restored.Payload.ImageBase64)
		if err != nil {
			return s, fmt.Errorf("failed to restore image: %w", err)
		}
		restored.Image = &img
	}
	return restored, nil
}

// Result returns the task result document: the final result when the
// pipeline produced one, or a summary of the accumulated fields otherwise.
func (s State) Result() (json.RawMessage, error) {
	if s.FinalResult != nil {
		return encodeJSON(s.FinalResult)
	}

	payload := s.RawPayload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return encodeJSON(struct {
		VisionSummary string          `json:"visionSummary"`
		OptimizedText string          `json:"optimizedText"`
		Prompt        string          `json:"prompt"`
		Payload       json.RawMessage `json:"payload"`
	}{
		VisionSummary: s.VisionSummary,
		OptimizedText: s.TextResult,
		Prompt:        s.Prompt,
		Payload:       payload,
	})
}

// Outcome is what a handler hands back to the worker.
type Outcome struct {
	State State
	Extra map[string]any
}

// StepExtra renders the metadata stored on a successful step: the handler's
// extra fields plus the checkpoint of the resulting state.
func (o Outcome) StepExtra() (json.RawMessage, error) {
	checkpoint, err := o.State.Checkpoint()
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(o.Extra)+1)
	for k, v := range o.Extra {
		fields[k] = v
	}
	fields[checkpointKey] = checkpoint

	raw, err := encodeJSON(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step extra: %w", err)
	}
	return raw, nil
}

// FailureExtra renders the metadata stored on a failed step.
func FailureExtra(message string) json.RawMessage {
	raw, err := encodeJSON(map[string]string{"error": message})
	if err != nil {
		return nil
	}
	return raw
}
