package domain

import (
	"encoding/base64"
	"strings"
)

// DefaultImageMIMEType is assumed for raw base64 input without a data URI prefix.
const DefaultImageMIMEType = "image/png"

// Image is a decoded binary image together with its media type.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURI renders the image back into data URI form.
func (i Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// DecodeImage accepts either a data URI ("data:image/jpeg;base64,...") or bare
// base64 and returns the decoded image.
func DecodeImage(input string) (Image, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Image{}, ErrImageRequired
	}

	mimeType := DefaultImageMIMEType
	encoded := input
	if strings.HasPrefix(input, "data:") {
		header, body, ok := strings.Cut(input, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return Image{}, ErrInvalidImage
		}
		if mt := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64"); mt != "" {
			mimeType = mt
		}
		encoded = body
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some clients strip padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return Image{}, ErrInvalidImage
		}
	}
	if len(data) == 0 {
		return Image{}, ErrImageRequired
	}

	return Image{Data: data, MIMEType: mimeType}, nil
}
