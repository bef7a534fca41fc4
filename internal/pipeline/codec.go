package pipeline

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// codec emits map keys in sorted order so stored documents are byte-stable.
var codec = sonic.ConfigStd

func encodeJSON(v any) (json.RawMessage, error) {
	return codec.Marshal(v)
}

func decodeJSON(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}
