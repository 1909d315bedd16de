package common

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Reply is the chainable response builder for a single request. Builder
// methods mutate pending response state and return the same *Reply so calls
// compose left-to-right. Send is the sole terminal operation: the sent flag
// transitions false to true exactly once and every later write attempt fails
// with ErrAlreadySent.
type Reply struct {
	w          http.ResponseWriter
	serializer Serializer
	logger     *zap.Logger

	status      int
	contentType string
	sent        bool
	bytes       int64
	err         error
}

// NewReply builds a Reply writing to w. The serializer is the owning scope's
// default; handlers may swap it per request via Serializer.
func NewReply(w http.ResponseWriter, serializer Serializer, logger *zap.Logger) *Reply {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reply{w: w, serializer: serializer, logger: logger, status: http.StatusOK}
}

// Code sets the response status code.
func (r *Reply) Code(status int) *Reply {
	if r.rejectIfSent() {
		return r
	}
	r.status = status
	return r
}

// Header sets a response header.
func (r *Reply) Header(key, value string) *Reply {
	if r.rejectIfSent() {
		return r
	}
	r.w.Header().Set(key, value)
	return r
}

// Type sets the Content-Type written by Send.
func (r *Reply) Type(contentType string) *Reply {
	if r.rejectIfSent() {
		return r
	}
	r.contentType = contentType
	return r
}

// Redirect stages a redirect to url with the given status code. Like the
// other builder methods it does not send; chain with Send to flush.
func (r *Reply) Redirect(status int, url string) *Reply {
	if r.rejectIfSent() {
		return r
	}
	r.status = status
	r.w.Header().Set("Location", url)
	return r
}

// Serializer replaces the serializer used by Send for this reply.
func (r *Reply) Serializer(s Serializer) *Reply {
	if r.rejectIfSent() {
		return r
	}
	r.serializer = s
	return r
}

// Writer exposes the underlying http.ResponseWriter for handlers that stream
// the response themselves. Call Hijack so the lifecycle does not also send.
func (r *Reply) Writer() http.ResponseWriter { return r.w }

// Hijack marks the reply as sent without writing anything, for handlers that
// wrote to the raw writer directly.
func (r *Reply) Hijack() error {
	if r.sent {
		return ErrAlreadySent
	}
	r.sent = true
	return nil
}

// Sent reports whether the reply has been flushed.
func (r *Reply) Sent() bool { return r.sent }

// StatusCode returns the status code that was, or is pending to be, written.
func (r *Reply) StatusCode() int { return r.status }

// BytesWritten returns the number of body bytes written by Send.
func (r *Reply) BytesWritten() int64 { return r.bytes }

// Err returns the first error recorded by a builder method invoked after the
// reply was sent, or nil.
func (r *Reply) Err() error { return r.err }

// errorBody is the structured shape serialized for error payloads.
type errorBody struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// Send serializes the payload and flushes the response. A nil payload sends
// headers and status only. Calling Send on an already-sent reply fails with
// ErrAlreadySent and does not alter the sent response. If the serializer
// fails, a minimal plain-text fallback response is emitted, the failure is
// logged, and the serializer's error is returned.
func (r *Reply) Send(payload any) error {
	if r.sent {
		return ErrAlreadySent
	}

	var (
		body []byte
		ct   = r.contentType
	)

	switch p := payload.(type) {
	case nil:
		// Status and headers only.
	case []byte:
		body = p
		if ct == "" {
			ct = "application/octet-stream"
		}
	case string:
		body = []byte(p)
		if ct == "" {
			ct = "text/plain; charset=utf-8"
		}
	case *HTTPError:
		if r.status < http.StatusBadRequest {
			r.status = p.StatusCode
		}
		var err error
		body, err = r.marshal(errorBody{Error: p.Message, StatusCode: r.status})
		if err != nil {
			return r.sendFallback(err)
		}
		if ct == "" {
			ct = r.serializerContentType()
		}
	case error:
		if r.status < http.StatusBadRequest {
			r.status = http.StatusInternalServerError
		}
		var err error
		body, err = r.marshal(errorBody{Error: p.Error(), StatusCode: r.status})
		if err != nil {
			return r.sendFallback(err)
		}
		if ct == "" {
			ct = r.serializerContentType()
		}
	default:
		var err error
		body, err = r.marshal(payload)
		if err != nil {
			return r.sendFallback(err)
		}
		if ct == "" {
			ct = r.serializerContentType()
		}
	}

	if ct != "" {
		r.w.Header().Set("Content-Type", ct)
	}
	if len(body) > 0 {
		r.w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	r.w.WriteHeader(r.status)
	n, err := r.w.Write(body)
	r.bytes = int64(n)
	r.sent = true
	return err
}

func (r *Reply) marshal(v any) ([]byte, error) {
	if r.serializer == nil {
		return nil, ErrNoSerializer
	}
	return r.serializer.Marshal(v)
}

func (r *Reply) serializerContentType() string {
	if r.serializer == nil {
		return ""
	}
	return r.serializer.ContentType()
}

// sendFallback emits the minimal response used when serialization fails.
// The request is never left unresponded.
func (r *Reply) sendFallback(cause error) error {
	r.logger.Error("Serialization failed, sending fallback response",
		zap.Error(cause),
		zap.Int("status", r.status),
	)
	r.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	r.w.WriteHeader(http.StatusInternalServerError)
	n, _ := r.w.Write([]byte("Internal Server Error"))
	r.bytes = int64(n)
	r.status = http.StatusInternalServerError
	r.sent = true
	return cause
}

func (r *Reply) rejectIfSent() bool {
	if !r.sent {
		return false
	}
	if r.err == nil {
		r.err = ErrAlreadySent
	}
	return true
}
