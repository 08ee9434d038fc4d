package imageproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/imagemint/internal/inference"
	"github.com/fpang/imagemint/internal/logging"
)

// Operations is what the transport wrappers call. *Service implements it.
type Operations interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

// Reply is a transport-neutral response: a status code and a value to be
// serialized as the JSON body.
type Reply struct {
	Status int
	Body   any
}

// CreateReply is the success body of create.
type CreateReply struct {
	Image string `json:"image"`
}

// ErrorReply is the body of every failed request.
type ErrorReply struct {
	Error any `json:"error"`
}

// Create decodes a create body, runs Generate and builds the reply.
func Create(ctx context.Context, ops Operations, body []byte) Reply {
	var req GenerationRequest
	if err := decodeBody(body, &req); err != nil {
		return ErrorResult("create", err)
	}

	result, err := ops.Generate(ctx, req)
	if err != nil {
		return ErrorResult("create", err)
	}

	log.Info().
		Str("mimeType", result.MIMEType).
		Int("imageBytes", len(result.Data)).
		Msg("Image generated")
	return Reply{Status: http.StatusOK, Body: CreateReply{Image: result.DataURI()}}
}

// Upload decodes an upload body, runs Upload and builds the reply.
func Upload(ctx context.Context, ops Operations, body []byte) Reply {
	var req UploadRequest
	if err := decodeBody(body, &req); err != nil {
		return ErrorResult("upload", err)
	}

	result, err := ops.Upload(ctx, req)
	if err != nil {
		return ErrorResult("upload", err)
	}

	log.Info().Str("url", result.LocatorURL).Msg("Image uploaded")
	return Reply{Status: http.StatusOK, Body: result}
}

// ErrorResult classifies err, logs it once and returns the error reply.
// Client errors are logged as warnings, everything else as errors with the
// full cause.
func ErrorResult(operation string, err error) Reply {
	f := Classify(err)

	var evt *zerolog.Event
	if f.Client {
		evt = log.Warn()
	} else {
		evt = log.Error()
	}
	evt = evt.Err(err).Str("operation", operation).Int("status", f.Status)

	var rejected *inference.RejectedError
	if errors.As(err, &rejected) {
		evt = evt.
			Int("upstreamStatus", rejected.StatusCode).
			Str("upstreamContentType", rejected.ContentType).
			Str("upstreamBody", logging.Truncate(string(rejected.Body), 500))
	}
	evt.Msg("Request failed")

	return Reply{Status: f.Status, Body: ErrorReply{Error: f.Message}}
}

// decodeBody unmarshals a JSON object body. An empty body or trailing data
// is rejected.
func decodeBody(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return invalidRequest(MsgInvalidBody)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return invalidRequest(MsgInvalidBody)
	}
	if dec.More() {
		return invalidRequest(MsgInvalidBody)
	}
	return nil
}
