package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wisphttp/wisp/pkg/common"
)

// edge is a per-segment literal child. A linear scan over a small slice beats
// map hashing for typical fan-out.
type edge struct {
	label string
	node  *node
}

// node is one level of the per-method segment trie. Each node has at most one
// parameter child and at most one wildcard terminal, so two registered
// patterns can never tie at every specificity rank: a true duplicate is
// structurally impossible past registration.
type node struct {
	edges    []edge
	param    *paramChild
	wildcard *Route
	route    *Route
}

type paramChild struct {
	name string
	node *node
}

func (n *node) findEdge(label string) *node {
	for i := range n.edges {
		if n.edges[i].label == label {
			return n.edges[i].node
		}
	}
	return nil
}

func (n *node) findOrCreateEdge(label string) *node {
	if child := n.findEdge(label); child != nil {
		return child
	}
	child := &node{}
	n.edges = append(n.edges, edge{label: label, node: child})
	return child
}

// MatchStatus classifies the outcome of a Resolve call.
type MatchStatus int

const (
	// Matched means a route was found and params were extracted.
	Matched MatchStatus = iota
	// NotFound means no registered pattern matches the path under any method.
	NotFound
	// MethodNotAllowed means the path matches under at least one other method.
	MethodNotAllowed
)

// Result is the outcome of resolving a method+path pair.
type Result struct {
	Status MatchStatus
	Route  *Route
	// Params maps parameter names to captured segments. Nil when the matched
	// pattern has no dynamic segments.
	Params map[string]string
	// Allowed lists the methods that do match the path when Status is
	// MethodNotAllowed, sorted for a deterministic Allow header.
	Allowed []string
}

// Table maps (method, path) to registered routes. Registration is single-writer
// during boot; after Seal the table is immutable and safe for concurrent reads.
type Table struct {
	mu     sync.Mutex
	trees  map[string]*node
	routes []*Route
	sealed bool
}

// New creates an empty route table.
func New() *Table {
	return &Table{trees: make(map[string]*node, len(Methods))}
}

// Register adds a route at boot time. It fails with a RegistrationError on a
// true duplicate (same method and same specificity sequence), a parameter
// name conflict, an invalid pattern, an unknown method, or any registration
// after the table has been sealed.
func (t *Table) Register(rt *Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return &common.RegistrationError{Op: "route", Detail: rt.Method + " " + rt.Pattern, Err: common.ErrLateRegistration}
	}
	if !validMethod(rt.Method) {
		return &common.RegistrationError{Op: "route", Detail: fmt.Sprintf("unknown method %q", rt.Method)}
	}
	if rt.Handler == nil {
		return &common.RegistrationError{Op: "route", Detail: rt.Method + " " + rt.Pattern + ": nil handler"}
	}

	segments, err := parsePattern(rt.Pattern)
	if err != nil {
		return &common.RegistrationError{Op: "route", Detail: err.Error()}
	}
	rt.segments = segments

	tree := t.trees[rt.Method]
	if tree == nil {
		tree = &node{}
		t.trees[rt.Method] = tree
	}

	current := tree
	for _, seg := range segments {
		switch seg.kind {
		case segLiteral:
			current = current.findOrCreateEdge(seg.value)
		case segParam:
			if current.param == nil {
				current.param = &paramChild{name: seg.value, node: &node{}}
			} else if current.param.name != seg.value {
				return &common.RegistrationError{
					Op:     "route",
					Detail: fmt.Sprintf("%s %s: parameter %q conflicts with %q registered at the same position", rt.Method, rt.Pattern, seg.value, current.param.name),
				}
			}
			current = current.param.node
		case segWildcard:
			if current.wildcard != nil {
				return &common.RegistrationError{
					Op:     "route",
					Detail: fmt.Sprintf("%s %s: duplicate of %s", rt.Method, rt.Pattern, current.wildcard.Pattern),
				}
			}
			current.wildcard = rt
			t.routes = append(t.routes, rt)
			return nil
		}
	}

	if current.route != nil {
		return &common.RegistrationError{
			Op:     "route",
			Detail: fmt.Sprintf("%s %s: duplicate of %s", rt.Method, rt.Pattern, current.route.Pattern),
		}
	}
	current.route = rt
	t.routes = append(t.routes, rt)
	return nil
}

// Seal freezes the table. Registration afterwards fails with
// ErrLateRegistration; resolution needs no locking from here on.
func (t *Table) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Sealed reports whether the table has been sealed.
func (t *Table) Sealed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sealed
}

// Routes returns every registered route in registration order.
func (t *Table) Routes() []*Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Resolve returns the best-matching route for method+path along with the
// extracted parameters. Precedence at each segment is Literal > Parameter >
// Wildcard, with backtracking so a dead end in a more specific branch falls
// back to a less specific one. When no route matches under the given method
// but at least one other method matches the path, the result is
// MethodNotAllowed with the Allow set.
func (t *Table) Resolve(method, path string) Result {
	segs := splitPath(path)

	if tree := t.trees[method]; tree != nil {
		params := make(map[string]string)
		if rt := matchNode(tree, segs, 0, params); rt != nil {
			if len(params) == 0 {
				params = nil
			}
			return Result{Status: Matched, Route: rt, Params: params}
		}
	}

	var allowed []string
	for m, tree := range t.trees {
		if m == method {
			continue
		}
		if rt := matchNode(tree, segs, 0, map[string]string{}); rt != nil {
			allowed = append(allowed, m)
		}
	}
	if len(allowed) > 0 {
		sort.Strings(allowed)
		return Result{Status: MethodNotAllowed, Allowed: allowed}
	}
	return Result{Status: NotFound}
}

// splitPath cuts a request path into segments without allocating for the
// root path.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// matchNode walks the trie depth-first in specificity order. Parameter
// captures are written while unwinding the successful branch, so abandoned
// branches leave no stray entries.
func matchNode(n *node, segs []string, i int, params map[string]string) *Route {
	if i == len(segs) {
		if n.route != nil {
			return n.route
		}
		if n.wildcard != nil {
			params[WildcardParam] = ""
			return n.wildcard
		}
		return nil
	}

	seg := segs[i]
	if child := n.findEdge(seg); child != nil {
		if rt := matchNode(child, segs, i+1, params); rt != nil {
			return rt
		}
	}
	if n.param != nil {
		if rt := matchNode(n.param.node, segs, i+1, params); rt != nil {
			params[n.param.name] = seg
			return rt
		}
	}
	if n.wildcard != nil {
		params[WildcardParam] = strings.Join(segs[i:], "/")
		return n.wildcard
	}
	return nil
}
