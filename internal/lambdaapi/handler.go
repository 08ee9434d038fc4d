// Package lambdaapi adapts one proxy operation to a raw API Gateway HTTP API
// (payload v2) Lambda handler. Each create/upload Lambda serves a single
// operation regardless of the route it is mounted on.
package lambdaapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/fpang/imagemint/internal/imageproxy"
	"github.com/fpang/imagemint/internal/metrics"
)

// Operation names.
const (
	OperationCreate = "create"
	OperationUpload = "upload"
)

const defaultMaxBodyBytes = 25 << 20

// Handler serves one operation.
type Handler struct {
	operation     string
	ops           imageproxy.Operations
	allowedOrigin string
	maxBodyBytes  int64
}

// Options tunes the handler. Zero values fall back to defaults.
type Options struct {
	AllowedOrigin string
	MaxBodyBytes  int64
}

// NewHandler creates a Handler for operation (OperationCreate or
// OperationUpload).
func NewHandler(operation string, ops imageproxy.Operations, opts Options) (*Handler, error) {
	if operation != OperationCreate && operation != OperationUpload {
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		operation:     operation,
		ops:           ops,
		allowedOrigin: opts.AllowedOrigin,
		maxBodyBytes:  opts.MaxBodyBytes,
	}, nil
}

// Handle is the function passed to lambda.Start.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	start := time.Now()
	method := strings.ToUpper(req.RequestContext.HTTP.Method)

	var reply imageproxy.Reply
	switch method {
	case http.MethodOptions:
		resp := h.response(http.StatusOK, "")
		h.record(method, resp.StatusCode, start)
		return resp, nil
	case http.MethodPost:
		reply = h.dispatch(ctx, req)
	default:
		reply = imageproxy.Reply{
			Status: http.StatusMethodNotAllowed,
			Body:   imageproxy.ErrorReply{Error: "Method not allowed"},
		}
	}

	data, err := json.Marshal(reply.Body)
	if err != nil {
		log.Error().Err(err).Str("operation", h.operation).Msg("Failed to marshal reply")
		reply.Status = http.StatusInternalServerError
		data = []byte(fmt.Sprintf(`{"error":%q}`, imageproxy.MsgProcessingFailed))
	}
	resp := h.response(reply.Status, string(data))
	resp.Headers["Content-Type"] = "application/json"

	log.Info().
		Str("method", method).
		Str("path", req.RawPath).
		Str("operation", h.operation).
		Int("status", reply.Status).
		Str("requestId", req.RequestContext.RequestID).
		Dur("duration", time.Since(start)).
		Msg("API request")
	h.record(method, reply.Status, start)
	return resp, nil
}

func (h *Handler) dispatch(ctx context.Context, req events.APIGatewayV2HTTPRequest) imageproxy.Reply {
	body, err := h.body(req)
	if err != nil {
		return imageproxy.ErrorResult(h.operation, err)
	}
	if h.operation == OperationCreate {
		return imageproxy.Create(ctx, h.ops, body)
	}
	return imageproxy.Upload(ctx, h.ops, body)
}

// body returns the decoded request body, enforcing the size limit.
func (h *Handler) body(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	var body []byte
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: base64 body: %w", imageproxy.ErrInvalidRequest, err)
		}
		body = decoded
	} else {
		body = []byte(req.Body)
	}
	if int64(len(body)) > h.maxBodyBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", imageproxy.ErrBodyTooLarge, len(body), h.maxBodyBytes)
	}
	return body, nil
}

func (h *Handler) response(status int, body string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Access-Control-Allow-Origin":  h.allowedOrigin,
			"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
			"Access-Control-Allow-Headers": "Content-Type, Authorization",
		},
		Body: body,
	}
}

func (h *Handler) record(method string, status int, start time.Time) {
	metrics.New(metrics.Namespace).
		Dimension("Endpoint", "/"+h.operation).
		Metric("RequestLatencyMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Count("RequestCount").
		Property("method", method).
		Property("statusCode", status).
		Flush()
}
