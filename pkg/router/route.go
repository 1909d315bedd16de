// Package router implements the method+path dispatch table for the Wisp
// framework. Routes are registered during boot, the table is sealed when the
// plugin tree settles, and resolution is lock-free afterwards.
package router

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wisphttp/wisp/pkg/common"
)

// Methods is the fixed set of HTTP methods the table accepts.
var Methods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
	http.MethodOptions,
}

// WildcardParam is the parameter name under which a trailing wildcard
// captures the remaining path suffix.
const WildcardParam = "*"

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
)

// segment is one element of a parsed path pattern.
type segment struct {
	kind segmentKind
	// value holds the literal text or the parameter name.
	value string
}

// Route is a compiled mapping from (method, path pattern) to a handler plus
// metadata. Instances are created by the registration layer and become
// immutable once the table is sealed.
type Route struct {
	Method  string
	Pattern string
	Handler common.Handler

	// Hooks are route-level before-hooks, appended after the owning scope's
	// inherited PreHandler chain.
	Hooks []common.Hook

	// Schema is an optional validation descriptor (a prototype struct) passed
	// to the schema-validator collaborator before the handler runs.
	Schema any

	// Owner is the scope that registered the route, used for decorator lookup.
	Owner common.DecoratorSource

	// Timeout overrides the server's global request timeout when positive.
	Timeout time.Duration

	// MaxBodySize overrides the server's global body size limit when positive.
	MaxBodySize int64

	segments []segment

	// Composed at seal time by the server layer.
	chains     map[common.HookKind]common.HookChain
	serializer common.Serializer
}

// SetChain installs the composed hook chain for one lifecycle kind.
// Called once per kind while the boot tree is being finalized.
func (rt *Route) SetChain(kind common.HookKind, chain common.HookChain) {
	if rt.chains == nil {
		rt.chains = make(map[common.HookKind]common.HookChain, len(common.RequestHookKinds))
	}
	rt.chains[kind] = chain
}

// Chain returns the composed hook chain for the given kind.
func (rt *Route) Chain(kind common.HookKind) common.HookChain {
	return rt.chains[kind]
}

// SetSerializer installs the effective serializer for this route, resolved
// from its owning scope at seal time.
func (rt *Route) SetSerializer(s common.Serializer) { rt.serializer = s }

// Serializer returns the effective serializer for this route.
func (rt *Route) Serializer() common.Serializer { return rt.serializer }

// parsePattern splits a pattern into validated segments.
// Patterns must begin with '/'. ':' introduces a named parameter segment and
// '*' a wildcard, which is only valid as the final segment. Duplicate
// parameter names within one pattern are rejected.
func parsePattern(pattern string) ([]segment, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, fmt.Errorf("pattern %q must begin with '/'", pattern)
	}
	if pattern == "/" {
		return nil, nil
	}

	parts := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	segments := make([]segment, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for i, part := range parts {
		switch {
		case part == "":
			return nil, fmt.Errorf("pattern %q contains an empty segment", pattern)
		case part == "*":
			if i != len(parts)-1 {
				return nil, fmt.Errorf("pattern %q: wildcard must be the final segment", pattern)
			}
			segments = append(segments, segment{kind: segWildcard, value: WildcardParam})
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return nil, fmt.Errorf("pattern %q contains an unnamed parameter", pattern)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("pattern %q declares parameter %q twice", pattern, name)
			}
			seen[name] = struct{}{}
			segments = append(segments, segment{kind: segParam, value: name})
		case strings.ContainsAny(part, ":*"):
			return nil, fmt.Errorf("pattern %q: ':' and '*' are only valid at the start of a segment", pattern)
		default:
			segments = append(segments, segment{kind: segLiteral, value: part})
		}
	}
	return segments, nil
}

func validMethod(method string) bool {
	for _, m := range Methods {
		if m == method {
			return true
		}
	}
	return false
}
