package imageproxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fpang/imagemint/internal/datauri"
	"github.com/fpang/imagemint/internal/inference"
)

// Client-facing error messages.
const (
	MsgInvalidBody         = "Invalid request body"
	MsgInvalidImage        = "Invalid image data"
	MsgInvalidMimeType     = "Invalid image MIME type"
	MsgNoInferenceResponse = "No response received from Hugging Face API"
	MsgProcessingFailed    = "Error in processing your request"
	MsgUploadFailed        = "Error uploading to NFT.storage"
	MsgBodyTooLarge        = "Request body too large"
)

// ErrBodyTooLarge is returned by transports when the request body exceeds
// the configured limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Failure is the transport-neutral form of an error: the status to answer
// with and the value of the "error" field in the JSON body.
type Failure struct {
	Status int
	// Message is a string, or a json.RawMessage when an upstream JSON body
	// is passed through.
	Message any
	// Client is true for errors caused by the caller's input.
	Client bool
}

// Classify maps an operation error to its Failure. Internal details never
// reach Message except for upstream rejections, whose body is passed
// through verbatim.
func Classify(err error) Failure {
	var rejected *inference.RejectedError

	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return Failure{Status: http.StatusRequestEntityTooLarge, Message: MsgBodyTooLarge, Client: true}
	case errors.Is(err, ErrInvalidRequest):
		return Failure{Status: http.StatusBadRequest, Message: clientMessage(err), Client: true}
	case errors.Is(err, datauri.ErrMalformedDataURI):
		return Failure{Status: http.StatusBadRequest, Message: MsgInvalidImage, Client: true}
	case errors.Is(err, datauri.ErrUnsupportedMimeType):
		return Failure{Status: http.StatusBadRequest, Message: MsgInvalidMimeType, Client: true}
	case errors.As(err, &rejected):
		return Failure{Status: rejected.StatusCode, Message: rejectedMessage(rejected)}
	case errors.Is(err, inference.ErrUnreachable):
		return Failure{Status: http.StatusInternalServerError, Message: MsgNoInferenceResponse}
	case errors.Is(err, ErrStorageUploadFailed):
		return Failure{Status: http.StatusInternalServerError, Message: MsgUploadFailed}
	default:
		return Failure{Status: http.StatusInternalServerError, Message: MsgProcessingFailed}
	}
}

// clientMessage unwraps ErrInvalidRequest detail ("inputs is required")
// and falls back to the generic body message.
func clientMessage(err error) any {
	var detail *requestError
	if errors.As(err, &detail) {
		return detail.msg
	}
	return MsgInvalidBody
}

// rejectedMessage embeds a JSON upstream body as-is and sends anything
// else as a string.
func rejectedMessage(e *inference.RejectedError) any {
	if e.IsJSON() {
		return json.RawMessage(e.Body)
	}
	return string(e.Body)
}

// requestError is an ErrInvalidRequest whose message is safe to show.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Unwrap() error { return ErrInvalidRequest }

func invalidRequest(msg string) error {
	return &requestError{msg: msg}
}
