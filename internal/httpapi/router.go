// Package httpapi exposes the proxy operations over plain net/http. The same
// handler serves the standalone server and, behind httpadapter, the Lambda
// function build.
//
// Endpoints:
//
//	POST /create, /api/create   generate an image, reply {"image": "<data URI>"}
//	POST /upload, /api/upload   store a data URI image, reply {"url": "<locator>"}
//	GET  /health, /api/health   liveness check
//	OPTIONS *                   CORS preflight, always 200
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fpang/imagemint/internal/imageproxy"
)

// Options tunes the handler. Zero values fall back to the defaults below.
type Options struct {
	AllowedOrigin string
	MaxBodyBytes  int64
}

const (
	defaultAllowedOrigin = "*"
	defaultMaxBodyBytes  = 25 << 20
)

type server struct {
	ops          imageproxy.Operations
	maxBodyBytes int64
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(ops imageproxy.Operations, opts Options) http.Handler {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = defaultAllowedOrigin
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &server{ops: ops, maxBodyBytes: opts.MaxBodyBytes}

	r := mux.NewRouter()
	for _, prefix := range []string{"", "/api"} {
		r.HandleFunc(prefix+"/create", s.handleCreate).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/upload", s.handleUpload).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/health", handleHealth).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return withRequestID(withLogging(withMetrics(withCORS(opts.AllowedOrigin, r))))
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		respondReply(w, imageproxy.ErrorResult("create", err))
		return
	}
	respondReply(w, imageproxy.Create(r.Context(), s.ops, body))
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		respondReply(w, imageproxy.ErrorResult("upload", err))
		return
	}
	respondReply(w, imageproxy.Upload(r.Context(), s.ops, body))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readBody reads the whole request body up to the configured limit.
func (s *server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit %d bytes", imageproxy.ErrBodyTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: reading body: %w", imageproxy.ErrInvalidRequest, err)
	}
	return body, nil
}
