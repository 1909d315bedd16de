// Package common provides shared types and utilities used across the Wisp framework.
package common

import "context"

// HookKind identifies a point in the request lifecycle at which hooks run.
type HookKind string

const (
	// OnRequest hooks run first, immediately after a route has been resolved.
	OnRequest HookKind = "onRequest"

	// PreHandler hooks run after the request body has been read and validated,
	// immediately before the route handler.
	PreHandler HookKind = "preHandler"

	// OnResponse hooks run after the reply has been sent. They are observational:
	// the reply can no longer be written to and errors are only logged.
	OnResponse HookKind = "onResponse"

	// OnError hooks run when a hook or handler fails, before the error response
	// is serialized.
	OnError HookKind = "onError"
)

// RequestHookKinds lists the hook kinds that participate in the request
// lifecycle. Used for validation at registration time.
var RequestHookKinds = []HookKind{OnRequest, PreHandler, OnResponse, OnError}

// Hook is a callable invoked at a lifecycle point. A hook short-circuits the
// remaining chain and the handler either by sending the reply or by returning
// a non-nil error.
type Hook func(req *Request, reply *Reply) error

// Handler processes a matched request. A returned non-nil payload is
// serialized and sent if the handler did not already send the reply itself.
type Handler func(req *Request, reply *Reply) (any, error)

// CloseHook is invoked while the server drains during shutdown.
type CloseHook func(ctx context.Context) error

// Serializer converts a handler payload into response bytes.
// Implementations live in the codec package.
type Serializer interface {
	// ContentType returns the content type written when the reply has not
	// declared one explicitly.
	ContentType() string

	// Marshal converts a payload into the wire representation.
	Marshal(v any) ([]byte, error)
}

// DecoratorSource resolves decorator names to values, following scope
// inheritance. Implemented by the scope package.
type DecoratorSource interface {
	Lookup(name string) (any, bool)
}
