package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type jsonSerializer struct{}

func (jsonSerializer) ContentType() string { return "application/json; charset=utf-8" }
func (jsonSerializer) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

type failingSerializer struct{}

func (failingSerializer) ContentType() string { return "application/json" }
func (failingSerializer) Marshal(v any) ([]byte, error) { return nil, errors.New("marshal failed") }

func newReply() (*Reply, *httptest.ResponseRecorder) {
	rr := httptest.NewRecorder()
	return NewReply(rr, jsonSerializer{}, nil), rr
}

func TestSendStruct(t *testing.T) {
	reply, rr := newReply()

	err := reply.Code(http.StatusCreated).Send(map[string]string{"name": "wisp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("expected serializer content type, got %q", ct)
	}
	if rr.Body.String() != `{"name":"wisp"}` {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if !reply.Sent() {
		t.Error("reply should be marked sent")
	}
	if reply.BytesWritten() != int64(rr.Body.Len()) {
		t.Errorf("expected %d bytes recorded, got %d", rr.Body.Len(), reply.BytesWritten())
	}
}

func TestSendString(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Send("hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("expected text content type, got %q", ct)
	}
	if rr.Body.String() != "hello" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
}

func TestSendBytes(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Send([]byte{0x1, 0x2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("expected octet-stream content type, got %q", ct)
	}
}

func TestSendNilSendsHeadersOnly(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Code(http.StatusNoContent).Send(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

func TestSendTwiceFails(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Send("first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reply.Send("second"); !errors.Is(err, ErrAlreadySent) {
		t.Fatalf("expected ErrAlreadySent, got %v", err)
	}
	if rr.Body.String() != "first" {
		t.Errorf("second send must not alter the response, got %q", rr.Body.String())
	}
}

func TestBuilderAfterSendRecordsError(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Send("done"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Builder calls still chain but the reply is untouched.
	reply.Code(http.StatusTeapot).Header("X-Late", "1").Type("text/html")
	if !errors.Is(reply.Err(), ErrAlreadySent) {
		t.Errorf("expected ErrAlreadySent recorded, got %v", reply.Err())
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status must not change after send, got %d", rr.Code)
	}
	if rr.Header().Get("X-Late") != "" {
		t.Error("headers must not change after send")
	}
}

func TestSendHTTPError(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Send(NewHTTPError(http.StatusNotFound, "Not Found")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}

	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if body.Error != "Not Found" || body.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected error body %+v", body)
	}
}

func TestSendPlainErrorDefaultsTo500(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Send(fmt.Errorf("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}

	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if body.Error != "boom" || body.StatusCode != http.StatusInternalServerError {
		t.Errorf("unexpected error body %+v", body)
	}
}

func TestSendErrorKeepsExplicitStatus(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Code(http.StatusConflict).Send(fmt.Errorf("duplicate")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}
}

func TestTypeOverridesSerializerContentType(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Type("application/vnd.api+json").Send(map[string]int{"n": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/vnd.api+json" {
		t.Errorf("expected explicit content type, got %q", ct)
	}
}

func TestRedirect(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Redirect(http.StatusFound, "/elsewhere").Send(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Code != http.StatusFound {
		t.Errorf("expected status 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/elsewhere" {
		t.Errorf("expected Location /elsewhere, got %q", loc)
	}
}

func TestSerializationFailureSendsFallback(t *testing.T) {
	reply, rr := newReply()
	reply.Serializer(failingSerializer{})

	err := reply.Send(map[string]int{"n": 1})
	if err == nil {
		t.Fatal("expected the serializer error to propagate")
	}
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected fallback status 500, got %d", rr.Code)
	}
	if rr.Body.String() != "Internal Server Error" {
		t.Errorf("expected fallback body, got %q", rr.Body.String())
	}
	if !reply.Sent() {
		t.Error("fallback must mark the reply sent")
	}
}

func TestHijack(t *testing.T) {
	reply, rr := newReply()

	if err := reply.Hijack(); err != nil {
		t.Fatalf("first hijack must succeed, got %v", err)
	}
	if !reply.Sent() {
		t.Error("hijack must mark the reply sent")
	}
	if err := reply.Hijack(); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("second hijack must fail with ErrAlreadySent, got %v", err)
	}
	if err := reply.Send("late"); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("send after hijack must fail with ErrAlreadySent, got %v", err)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("hijack must not write, got %q", rr.Body.String())
	}
}

func TestSendWithoutSerializer(t *testing.T) {
	rr := httptest.NewRecorder()
	reply := NewReply(rr, nil, nil)

	err := reply.Send(map[string]int{"n": 1})
	if !errors.Is(err, ErrNoSerializer) {
		t.Fatalf("expected ErrNoSerializer, got %v", err)
	}
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected fallback status 500, got %d", rr.Code)
	}
}
