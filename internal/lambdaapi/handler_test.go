package lambdaapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/imagemint/internal/datauri"
	"github.com/fpang/imagemint/internal/imageproxy"
	"github.com/fpang/imagemint/internal/inference"
)

type fakeOps struct {
	genResult *imageproxy.GenerationResult
	genErr    error
	upResult  *imageproxy.UploadResult
	upErr     error
	lastGen   imageproxy.GenerationRequest
	lastUp    imageproxy.UploadRequest
	calls     int
}

func (f *fakeOps) Generate(ctx context.Context, req imageproxy.GenerationRequest) (*imageproxy.GenerationResult, error) {
	f.calls++
	f.lastGen = req
	return f.genResult, f.genErr
}

func (f *fakeOps) Upload(ctx context.Context, req imageproxy.UploadRequest) (*imageproxy.UploadResult, error) {
	f.calls++
	f.lastUp = req
	return f.upResult, f.upErr
}

func request(method, body string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{RawPath: "/create", Body: body}
	req.RequestContext.HTTP.Method = method
	req.RequestContext.RequestID = "req-1"
	return req
}

func newHandler(t *testing.T, op string, ops imageproxy.Operations, opts Options) *Handler {
	t.Helper()
	h, err := NewHandler(op, ops, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return h
}

func TestNewHandler_UnknownOperation(t *testing.T) {
	if _, err := NewHandler("delete", &fakeOps{}, Options{}); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestHandle_Create(t *testing.T) {
	ops := &fakeOps{genResult: &imageproxy.GenerationResult{MIMEType: "image/png", Data: []byte("hello")}}
	h := newHandler(t, OperationCreate, ops, Options{})

	resp, err := h.Handle(context.Background(), request(http.MethodPost, `{"inputs":"a cat","options":{"wait_for_model":true}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	if resp.Headers["Content-Type"] != "application/json" {
		t.Errorf("expected application/json, got %s", resp.Headers["Content-Type"])
	}
	if resp.Headers["Access-Control-Allow-Origin"] != "*" {
		t.Errorf("expected CORS origin *, got %s", resp.Headers["Access-Control-Allow-Origin"])
	}
	var body imageproxy.CreateReply
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	img, err := datauri.Decode(body.Image)
	if err != nil || img.MIMEType != "image/png" || string(img.Data) != "hello" {
		t.Errorf("expected png data URI of hello, got %s (%v)", body.Image, err)
	}
	if string(ops.lastGen.Options) != `{"wait_for_model":true}` {
		t.Errorf("expected options forwarded, got %s", ops.lastGen.Options)
	}
}

func TestHandle_UploadBase64Body(t *testing.T) {
	ops := &fakeOps{upResult: &imageproxy.UploadResult{LocatorURL: "ipfs://abc"}}
	h := newHandler(t, OperationUpload, ops, Options{})

	req := request(http.MethodPost, base64.StdEncoding.EncodeToString(
		[]byte(`{"name":"x","description":"y","image":"data:image/png;base64,aGVsbG8="}`)))
	req.IsBase64Encoded = true

	resp, _ := h.Handle(context.Background(), req)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	if resp.Body != `{"url":"ipfs://abc"}` {
		t.Errorf("expected {\"url\":\"ipfs://abc\"}, got %s", resp.Body)
	}
	if ops.lastUp.Name != "x" || ops.lastUp.Description != "y" {
		t.Errorf("expected name/description forwarded, got %+v", ops.lastUp)
	}
}

func TestHandle_Preflight(t *testing.T) {
	ops := &fakeOps{}
	h := newHandler(t, OperationUpload, ops, Options{AllowedOrigin: "https://mint.example"})

	resp, _ := h.Handle(context.Background(), request(http.MethodOptions, ""))

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Headers["Access-Control-Allow-Origin"] != "https://mint.example" {
		t.Errorf("expected configured origin, got %s", resp.Headers["Access-Control-Allow-Origin"])
	}
	if resp.Headers["Access-Control-Allow-Methods"] != "GET, POST, OPTIONS" {
		t.Errorf("expected GET, POST, OPTIONS, got %s", resp.Headers["Access-Control-Allow-Methods"])
	}
	if ops.calls != 0 {
		t.Error("expected no operation on preflight")
	}
}

func TestHandle_Errors(t *testing.T) {
	tests := []struct {
		name       string
		op         string
		ops        *fakeOps
		req        events.APIGatewayV2HTTPRequest
		opts       Options
		wantStatus int
		wantBody   string
	}{
		{
			name:       "wrong method",
			op:         OperationCreate,
			ops:        &fakeOps{},
			req:        request(http.MethodGet, ""),
			wantStatus: http.StatusMethodNotAllowed,
			wantBody:   `{"error":"Method not allowed"}`,
		},
		{
			name:       "body too large",
			op:         OperationUpload,
			ops:        &fakeOps{},
			req:        request(http.MethodPost, `{"image":"data:image/png;base64,aGVsbG8="}`),
			opts:       Options{MaxBodyBytes: 8},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   `{"error":"Request body too large"}`,
		},
		{
			name: "bad base64 body",
			op:   OperationCreate,
			ops:  &fakeOps{},
			req: func() events.APIGatewayV2HTTPRequest {
				r := request(http.MethodPost, "%%%")
				r.IsBase64Encoded = true
				return r
			}(),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid request body"}`,
		},
		{
			name:       "upstream rejected",
			op:         OperationCreate,
			ops:        &fakeOps{genErr: &inference.RejectedError{StatusCode: 503, Body: []byte(`{"error":"busy"}`)}},
			req:        request(http.MethodPost, `{"inputs":"a cat"}`),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":{"error":"busy"}}`,
		},
		{
			name:       "upstream unreachable",
			op:         OperationCreate,
			ops:        &fakeOps{genErr: inference.ErrUnreachable},
			req:        request(http.MethodPost, `{"inputs":"a cat"}`),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"No response received from Hugging Face API"}`,
		},
		{
			name:       "store failure",
			op:         OperationUpload,
			ops:        &fakeOps{upErr: imageproxy.ErrStorageUploadFailed},
			req:        request(http.MethodPost, `{"image":"data:image/png;base64,aGVsbG8="}`),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Error uploading to NFT.storage"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(t, tt.op, tt.ops, tt.opts)
			resp, err := h.Handle(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if resp.Body != tt.wantBody {
				t.Errorf("expected body %s, got %s", tt.wantBody, resp.Body)
			}
		})
	}
}
