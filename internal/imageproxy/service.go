// Package imageproxy implements the two proxy operations shared by every
// transport wrapper:
//
//   - Generate forwards a prompt to the inference API and returns the image
//     as a data URI.
//   - Upload decodes a data URI image and submits it, with its name and
//     description, to a content-addressed store.
//
// The Service holds no mutable state; one instance serves concurrent
// requests. Create and Upload in reply.go adapt the operations to raw JSON
// request bodies for the HTTP and Lambda wrappers.
package imageproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/imagemint/internal/datauri"
	"github.com/fpang/imagemint/internal/inference"
	"github.com/fpang/imagemint/internal/metrics"
	"github.com/fpang/imagemint/internal/storage"
)

var (
	// ErrInvalidRequest marks a request body that could not be used at all
	// (bad JSON, missing inputs).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStorageUploadFailed wraps every store failure. The cause is kept
	// for logging but the caller only ever sees a generic message.
	ErrStorageUploadFailed = errors.New("storage upload failed")
)

// Generator produces an image from a prompt payload.
type Generator interface {
	Generate(ctx context.Context, req inference.Request) (*inference.Result, error)
}

// GenerationRequest is the create payload.
type GenerationRequest struct {
	Inputs  json.RawMessage `json:"inputs"`
	Options json.RawMessage `json:"options,omitempty"`
}

// GenerationResult is a generated image.
type GenerationResult struct {
	MIMEType string
	Data     []byte
}

// DataURI returns the result as data:<mime>;base64,<payload>.
func (r *GenerationResult) DataURI() string {
	return datauri.Encode(r.MIMEType, r.Data)
}

// UploadRequest is the upload payload. Image is a data URI.
type UploadRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// UploadResult carries the locator returned by the store.
type UploadResult struct {
	LocatorURL string `json:"url"`
}

// Service runs the proxy operations against injected upstreams.
type Service struct {
	generator Generator
	store     storage.Store
}

// NewService creates a Service.
func NewService(generator Generator, store storage.Store) *Service {
	return &Service{generator: generator, store: store}
}

// Generate calls the inference upstream. Upstream errors are returned
// unchanged so Classify can tell rejection, unreachability and setup
// failures apart.
func (s *Service) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if len(req.Inputs) == 0 || string(req.Inputs) == "null" {
		return nil, invalidRequest("inputs is required")
	}

	start := time.Now()
	result, err := s.generator.Generate(ctx, inference.Request{
		Inputs:  req.Inputs,
		Options: req.Options,
	})
	recordUpstream("generate", start, err)
	if err != nil {
		return nil, err
	}

	return &GenerationResult{MIMEType: result.MIMEType, Data: result.Data}, nil
}

// Upload validates the data URI and stores the image.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	img, err := datauri.Decode(req.Image)
	if err != nil {
		return nil, err
	}
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", datauri.ErrMalformedDataURI)
	}

	asset := storage.Asset{
		Name:        req.Name,
		Description: req.Description,
		MIMEType:    img.MIMEType,
		Data:        img.Data,
	}
	if w, h, ok := asset.Dimensions(); ok {
		log.Debug().Int("width", w).Int("height", h).Str("mimeType", img.MIMEType).Msg("Decoded upload image")
	}

	start := time.Now()
	url, err := s.store.Store(ctx, asset)
	recordUpstream("upload", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUploadFailed, err)
	}

	return &UploadResult{LocatorURL: url}, nil
}

// recordUpstream emits upstream latency and outcome for one operation.
func recordUpstream(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.New(metrics.Namespace).
		Dimension("Operation", operation).
		Metric("UpstreamLatencyMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Count("UpstreamCalls").
		Property("outcome", outcome).
		Flush()
}
