// Package inference is a client for a hosted text-to-image model on the
// Hugging Face Inference API.
//
// The client sends the caller's {inputs, options} payload untouched and
// buffers the binary image that comes back. Failures are split into three
// classes so the transport layer can answer the caller correctly:
//
//   - *RejectedError: the upstream answered with a non-2xx status
//   - ErrUnreachable: the request went out but no complete response came back
//   - ErrRequestSetup: the request could not be built at all
//
// Nothing is retried.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/imagemint/internal/logging"
)

// DefaultURL is the Stable Diffusion 2 model endpoint.
const DefaultURL = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-2"

var (
	// ErrUnreachable means no response arrived (network error, timeout,
	// truncated body).
	ErrUnreachable = errors.New("no response from inference API")

	// ErrRequestSetup means the request failed before anything was sent.
	ErrRequestSetup = errors.New("inference request setup failed")
)

// RejectedError is returned when the inference API answers with a non-2xx
// status. Body holds the upstream response body verbatim.
type RejectedError struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("inference API returned status %d: %s", e.StatusCode, logging.Truncate(string(e.Body), 200))
}

// IsJSON reports whether Body is a well-formed JSON document.
func (e *RejectedError) IsJSON() bool {
	return len(e.Body) > 0 && json.Valid(e.Body)
}

// Request is the payload forwarded to the model. Both fields are passed
// through as raw JSON; their shape is defined by the upstream API.
type Request struct {
	Inputs  json.RawMessage `json:"inputs"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Result is a generated image.
type Result struct {
	MIMEType string
	Data     []byte
}

// Config configures a Client.
type Config struct {
	APIKey string
	// URL overrides DefaultURL.
	URL string
	// HTTPClient overrides the default client. Its timeout, if any, is the
	// only deadline applied besides the caller's context.
	HTTPClient *http.Client
}

// Client calls the inference endpoint.
type Client struct {
	httpClient *http.Client
	apiKey     string
	url        string
}

// NewClient creates an inference client. apiKey must be non-empty; config
// loading rejects a missing key before a client is ever built.
func NewClient(cfg Config) *Client {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		apiKey:     cfg.APIKey,
		url:        url,
	}
}

// Generate posts req to the model and returns the generated image.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrRequestSetup, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRequestSetup, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/*, application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Debug().Str("url", c.url).Int("requestBytes", len(body)).Msg("Inference API request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Debug().Dur("duration", time.Since(startTime)).Err(err).Msg("Inference API request failed")
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnreachable, err)
	}

	contentType := resp.Header.Get("Content-Type")
	log.Debug().
		Int("statusCode", resp.StatusCode).
		Str("contentType", contentType).
		Int("responseBytes", len(respBody)).
		Dur("duration", time.Since(startTime)).
		Msg("Inference API response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RejectedError{
			StatusCode:  resp.StatusCode,
			Body:        respBody,
			ContentType: contentType,
		}
	}

	if contentType == "" {
		contentType = http.DetectContentType(respBody)
	}

	return &Result{MIMEType: contentType, Data: respBody}, nil
}
