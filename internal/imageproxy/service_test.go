package imageproxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fpang/imagemint/internal/datauri"
	"github.com/fpang/imagemint/internal/inference"
	"github.com/fpang/imagemint/internal/storage"
)

type fakeGenerator struct {
	result *inference.Result
	err    error
	got    inference.Request
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, req inference.Request) (*inference.Result, error) {
	f.calls++
	f.got = req
	return f.result, f.err
}

type fakeStore struct {
	url   string
	err   error
	asset storage.Asset
	calls int
}

func (f *fakeStore) Store(ctx context.Context, asset storage.Asset) (string, error) {
	f.calls++
	f.asset = asset
	return f.url, f.err
}

func TestService_Upload(t *testing.T) {
	store := &fakeStore{url: "ipfs://abc"}
	svc := NewService(&fakeGenerator{}, store)

	result, err := svc.Upload(context.Background(), UploadRequest{
		Name:        "x",
		Description: "y",
		Image:       "data:image/png;base64,aGVsbG8=",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LocatorURL != "ipfs://abc" {
		t.Errorf("expected ipfs://abc, got %s", result.LocatorURL)
	}
	if store.asset.Name != "x" || store.asset.Description != "y" {
		t.Errorf("expected name/description x/y, got %s/%s", store.asset.Name, store.asset.Description)
	}
	if store.asset.MIMEType != "image/png" {
		t.Errorf("expected image/png, got %s", store.asset.MIMEType)
	}
	if string(store.asset.Data) != "hello" {
		t.Errorf("expected decoded bytes hello, got %q", store.asset.Data)
	}
}

func TestService_UploadStoreFailure(t *testing.T) {
	causes := []error{
		errors.New("connection refused"),
		context.DeadlineExceeded,
		errors.New(`nft.storage: 401 {"ok":false}`),
	}
	for _, cause := range causes {
		svc := NewService(&fakeGenerator{}, &fakeStore{err: cause})
		_, err := svc.Upload(context.Background(), UploadRequest{Image: "data:image/png;base64,aGVsbG8="})
		if !errors.Is(err, ErrStorageUploadFailed) {
			t.Errorf("cause %v: expected ErrStorageUploadFailed, got %v", cause, err)
		}
		if f := Classify(err); f.Status != http.StatusInternalServerError || f.Message != MsgUploadFailed {
			t.Errorf("cause %v: expected 500 %q, got %d %v", cause, MsgUploadFailed, f.Status, f.Message)
		}
	}
}

func TestService_UploadInvalidImage(t *testing.T) {
	tests := []struct {
		name  string
		image string
		want  error
	}{
		{"not a data uri", "not-a-data-uri", datauri.ErrMalformedDataURI},
		{"empty", "", datauri.ErrMalformedDataURI},
		{"empty payload", "data:image/png;base64,", datauri.ErrMalformedDataURI},
		{"bad base64", "data:image/png;base64,@@@", datauri.ErrMalformedDataURI},
		{"text mime", "data:text/plain;base64,aGk=", datauri.ErrUnsupportedMimeType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{url: "ipfs://abc"}
			svc := NewService(&fakeGenerator{}, store)
			_, err := svc.Upload(context.Background(), UploadRequest{Image: tt.image})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if store.calls != 0 {
				t.Errorf("expected store not to be called, got %d calls", store.calls)
			}
		})
	}
}

func TestService_Generate(t *testing.T) {
	gen := &fakeGenerator{result: &inference.Result{MIMEType: "image/jpeg", Data: []byte("hello")}}
	svc := NewService(gen, &fakeStore{})

	result, err := svc.Generate(context.Background(), GenerationRequest{
		Inputs:  json.RawMessage(`"a cat"`),
		Options: json.RawMessage(`{"wait_for_model":true}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.DataURI(); got != "data:image/jpeg;base64,aGVsbG8=" {
		t.Errorf("expected data:image/jpeg;base64,aGVsbG8=, got %s", got)
	}
	if string(gen.got.Inputs) != `"a cat"` {
		t.Errorf("expected inputs forwarded, got %s", gen.got.Inputs)
	}
	if string(gen.got.Options) != `{"wait_for_model":true}` {
		t.Errorf("expected options forwarded, got %s", gen.got.Options)
	}
}

func TestService_GenerateMissingInputs(t *testing.T) {
	for _, inputs := range []json.RawMessage{nil, json.RawMessage("null")} {
		gen := &fakeGenerator{}
		svc := NewService(gen, &fakeStore{})
		_, err := svc.Generate(context.Background(), GenerationRequest{Inputs: inputs})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("inputs %q: expected ErrInvalidRequest, got %v", inputs, err)
		}
		if gen.calls != 0 {
			t.Errorf("inputs %q: expected no upstream call", inputs)
		}
	}
}

func TestService_GenerateRejectedPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"busy"}`))
	}))
	defer server.Close()

	client := inference.NewClient(inference.Config{APIKey: "hf_test", URL: server.URL})
	svc := NewService(client, &fakeStore{})

	_, err := svc.Generate(context.Background(), GenerationRequest{Inputs: json.RawMessage(`"a cat"`)})

	var rejected *inference.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected *inference.RejectedError, got %v", err)
	}
	if rejected.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rejected.StatusCode)
	}
	if string(rejected.Body) != `{"error":"busy"}` {
		t.Errorf("expected body {\"error\":\"busy\"}, got %s", rejected.Body)
	}

	f := Classify(err)
	if f.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", f.Status)
	}
	raw, ok := f.Message.(json.RawMessage)
	if !ok || string(raw) != `{"error":"busy"}` {
		t.Errorf("expected raw JSON message passthrough, got %#v", f.Message)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    any
		wantClient bool
	}{
		{"body too large", ErrBodyTooLarge, 413, MsgBodyTooLarge, true},
		{"invalid body", invalidRequest(MsgInvalidBody), 400, MsgInvalidBody, true},
		{"missing inputs", invalidRequest("inputs is required"), 400, "inputs is required", true},
		{"bare invalid request", ErrInvalidRequest, 400, MsgInvalidBody, true},
		{"malformed", datauri.ErrMalformedDataURI, 400, MsgInvalidImage, true},
		{"unsupported", datauri.ErrUnsupportedMimeType, 400, MsgInvalidMimeType, true},
		{"plain text rejection", &inference.RejectedError{StatusCode: 401, Body: []byte("Unauthorized")}, 401, "Unauthorized", false},
		{"unreachable", inference.ErrUnreachable, 500, MsgNoInferenceResponse, false},
		{"request setup", inference.ErrRequestSetup, 500, MsgProcessingFailed, false},
		{"storage", ErrStorageUploadFailed, 500, MsgUploadFailed, false},
		{"unknown", errors.New("boom"), 500, MsgProcessingFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			if f.Status != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, f.Status)
			}
			if f.Message != tt.wantMsg {
				t.Errorf("expected message %v, got %v", tt.wantMsg, f.Message)
			}
			if f.Client != tt.wantClient {
				t.Errorf("expected client=%v, got %v", tt.wantClient, f.Client)
			}
		})
	}
}
