package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed view of the fields the pipeline reads from a task's
// payload document. Unknown fields stay in the raw document untouched.
type Payload struct {
	UserID      string `json:"userId"`
	UserText    string `json:"userText"`
	ImageBase64 string `json:"imageBase64"`
	Type        string `json:"type,omitempty"`
}

// ParsePayload decodes the known fields of a raw payload document.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if len(raw) == 0 {
		return p, ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// BuildPayload merges the caller's document with the authenticated identity
// and the resolved task type. Identity from the request body is always
// overwritten so a caller cannot act on behalf of someone else.
func BuildPayload(body map[string]any, userID, taskType string) (json.RawMessage, error) {
	doc := make(map[string]any, len(body)+2)
	for k, v := range body {
		doc[k] = v
	}
	doc["userId"] = userID
	doc["type"] = taskType

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return raw, nil
}
