package common

import (
	"context"
	"net/http"
)

// Request carries the per-request state handed to hooks and handlers.
// It is exclusively owned by the request's processing chain and must not be
// shared across concurrent requests.
type Request struct {
	// Raw is the underlying HTTP request.
	Raw *http.Request

	// Params maps route parameter names to the path segments they captured.
	Params map[string]string

	// Body is the raw request body. It is populated before PreHandler hooks
	// run, subject to the configured body size limit.
	Body []byte

	// Payload is the decoded and validated body. It is set only when the
	// matched route declares a schema and validation succeeded; typed access
	// is never an untyped passthrough of the wire bytes.
	Payload any

	// Pattern is the matched route pattern, e.g. "/users/:id". Useful for
	// logging and metrics where the raw path would explode cardinality.
	Pattern string

	decorators DecoratorSource
}

// NewRequest builds a Request around a raw HTTP request. The decorator source
// is the scope that owns the matched route.
func NewRequest(raw *http.Request, params map[string]string, decorators DecoratorSource) *Request {
	return &Request{Raw: raw, Params: params, decorators: decorators}
}

// Method returns the HTTP method.
func (r *Request) Method() string { return r.Raw.Method }

// Path returns the request path.
func (r *Request) Path() string { return r.Raw.URL.Path }

// Context returns the underlying request context.
func (r *Request) Context() context.Context { return r.Raw.Context() }

// Param returns the captured value for a route parameter, or "".
func (r *Request) Param(name string) string { return r.Params[name] }

// Query returns the first query value for the given key, or "".
func (r *Request) Query(name string) string { return r.Raw.URL.Query().Get(name) }

// Header returns the first request header value for the given key.
func (r *Request) Header(name string) string { return r.Raw.Header.Get(name) }

// Get resolves a decorator by name, walking the owning scope and its
// ancestors. Decorators added by sibling or descendant scopes are not visible.
func (r *Request) Get(name string) (any, bool) {
	if r.decorators == nil {
		return nil, false
	}
	return r.decorators.Lookup(name)
}
