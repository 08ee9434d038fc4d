// Package datauri parses and builds base64 data URIs of the form
// data:<mime-type>;base64,<payload>.
//
// Decode only accepts image MIME types, since every caller in this
// repository hands the result to an image store. Encode trusts its input:
// the MIME type comes from an upstream response header.
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrMalformedDataURI is returned when the input is not a base64 data URI.
	ErrMalformedDataURI = errors.New("malformed data URI")

	// ErrUnsupportedMimeType is returned when the data URI is well formed but
	// its MIME type is not image/*.
	ErrUnsupportedMimeType = errors.New("unsupported MIME type")
)

// dataURIRegex captures the MIME type and the base64 payload. The payload may
// be empty; newlines are not allowed anywhere.
var dataURIRegex = regexp.MustCompile(`^data:([A-Za-z0-9.+\-/]+);base64,([^\r\n]*)$`)

// Image is the decoded content of a data URI.
type Image struct {
	MIMEType string
	Data     []byte
}

// Decode parses uri and returns the raw bytes it carries.
func Decode(uri string) (Image, error) {
	m := dataURIRegex.FindStringSubmatch(uri)
	if m == nil {
		return Image{}, fmt.Errorf("%w: expected data:<mime>;base64,<payload>", ErrMalformedDataURI)
	}

	mimeType := m[1]
	if !strings.HasPrefix(mimeType, "image/") {
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedMimeType, mimeType)
	}

	data, err := decodePayload(m[2])
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
	}

	return Image{MIMEType: mimeType, Data: data}, nil
}

// Encode builds a data URI for data. mimeType is used as-is.
func Encode(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// String returns img as a data URI.
func (img Image) String() string {
	return Encode(img.MIMEType, img.Data)
}

// decodePayload accepts padded standard base64 and, for payloads without
// padding, the raw variant browsers sometimes produce.
func decodePayload(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if !strings.HasSuffix(payload, "=") {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 payload: %w", err)
}
