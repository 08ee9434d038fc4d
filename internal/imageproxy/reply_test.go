package imageproxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/fpang/imagemint/internal/inference"
)

func TestCreate_Success(t *testing.T) {
	gen := &fakeGenerator{result: &inference.Result{MIMEType: "image/png", Data: []byte("hello")}}
	svc := NewService(gen, &fakeStore{})

	reply := Create(context.Background(), svc, []byte(`{"inputs":"a cat"}`))

	if reply.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", reply.Status)
	}
	body, ok := reply.Body.(CreateReply)
	if !ok {
		t.Fatalf("expected CreateReply, got %T", reply.Body)
	}
	if body.Image != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("expected data URI, got %s", body.Image)
	}
}

func TestCreate_InvalidBody(t *testing.T) {
	bodies := []string{"", "   ", "{", `{"inputs":"a"} {"inputs":"b"}`, `[1,2]`}
	for _, b := range bodies {
		gen := &fakeGenerator{}
		reply := Create(context.Background(), NewService(gen, &fakeStore{}), []byte(b))
		if reply.Status != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", b, reply.Status)
		}
		if gen.calls != 0 {
			t.Errorf("body %q: expected no upstream call", b)
		}
	}
}

func TestCreate_UpstreamRejectedJSONBody(t *testing.T) {
	gen := &fakeGenerator{err: &inference.RejectedError{
		StatusCode:  http.StatusServiceUnavailable,
		Body:        []byte(`{"error":"busy"}`),
		ContentType: "application/json",
	}}

	reply := Create(context.Background(), NewService(gen, &fakeStore{}), []byte(`{"inputs":"a cat"}`))

	if reply.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", reply.Status)
	}
	data, err := json.Marshal(reply.Body)
	if err != nil {
		t.Fatalf("failed to marshal reply: %v", err)
	}
	if string(data) != `{"error":{"error":"busy"}}` {
		t.Errorf("expected upstream body embedded, got %s", data)
	}
}

func TestCreate_Unreachable(t *testing.T) {
	gen := &fakeGenerator{err: inference.ErrUnreachable}

	reply := Create(context.Background(), NewService(gen, &fakeStore{}), []byte(`{"inputs":"a cat"}`))

	if reply.Status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", reply.Status)
	}
	if body := reply.Body.(ErrorReply); body.Error != MsgNoInferenceResponse {
		t.Errorf("expected %q, got %v", MsgNoInferenceResponse, body.Error)
	}
}

func TestUpload_Success(t *testing.T) {
	svc := NewService(&fakeGenerator{}, &fakeStore{url: "ipfs://abc"})

	reply := Upload(context.Background(), svc, []byte(`{"name":"x","description":"y","image":"data:image/png;base64,aGVsbG8="}`))

	if reply.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", reply.Status)
	}
	data, _ := json.Marshal(reply.Body)
	if string(data) != `{"url":"ipfs://abc"}` {
		t.Errorf("expected {\"url\":\"ipfs://abc\"}, got %s", data)
	}
}

func TestUpload_ErrorMessages(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		storeErr   error
		wantStatus int
		wantMsg    string
	}{
		{"malformed", `{"image":"not-a-data-uri"}`, nil, 400, MsgInvalidImage},
		{"unsupported", `{"image":"data:text/plain;base64,aGk="}`, nil, 400, MsgInvalidMimeType},
		{"store failure", `{"image":"data:image/png;base64,aGVsbG8="}`, errors.New("401 unauthorized"), 500, MsgUploadFailed},
		{"invalid json", `{"image":`, nil, 400, MsgInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&fakeGenerator{}, &fakeStore{err: tt.storeErr})
			reply := Upload(context.Background(), svc, []byte(tt.body))
			if reply.Status != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, reply.Status)
			}
			body, ok := reply.Body.(ErrorReply)
			if !ok {
				t.Fatalf("expected ErrorReply, got %T", reply.Body)
			}
			if body.Error != tt.wantMsg {
				t.Errorf("expected %q, got %v", tt.wantMsg, body.Error)
			}
		})
	}
}
