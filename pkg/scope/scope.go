// Package scope implements the plugin encapsulation contexts and the boot
// sequencer for the Wisp framework. Each plugin owns a Scope: routes, hooks,
// and decorators registered there are visible to the scope and its
// descendants but never leak to ancestors or earlier-created siblings.
package scope

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wisphttp/wisp/pkg/common"
	"github.com/wisphttp/wisp/pkg/router"
)

// BootState tracks a scope through the boot sequence.
type BootState int32

const (
	Pending BootState = iota
	Booting
	Ready
	Failed
)

func (s BootState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Booting:
		return "booting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("BootState(%d)", int32(s))
}

// Scope is an isolated registration context. The root scope exclusively owns
// the tree: parents hold their children, children keep a plain back-reference
// that is never followed for ownership.
type Scope struct {
	parent *Scope
	seq    *Sequencer
	state  atomic.Int32
	name   string

	mu         sync.Mutex
	children   []*Scope
	hooks      map[common.HookKind][]common.Hook
	closeHooks []common.CloseHook
	decorators map[string]any
	routes     []*router.Route
	serializer common.Serializer
}

func newScope(parent *Scope, seq *Sequencer, name string) *Scope {
	return &Scope{
		parent:     parent,
		seq:        seq,
		name:       name,
		hooks:      make(map[common.HookKind][]common.Hook),
		decorators: make(map[string]any),
	}
}

// Name returns the name the scope's plugin was registered under.
func (s *Scope) Name() string { return s.name }

// Parent returns the enclosing scope, or nil for the root.
func (s *Scope) Parent() *Scope { return s.parent }

// State returns the scope's boot state.
func (s *Scope) State() BootState { return BootState(s.state.Load()) }

func (s *Scope) setState(st BootState) { s.state.Store(int32(st)) }

// child creates a new child scope. Called by the sequencer under its lock.
func (s *Scope) child(seq *Sequencer, name string) *Scope {
	c := newScope(s, seq, name)
	s.mu.Lock()
	s.children = append(s.children, c)
	s.mu.Unlock()
	return c
}

// Children returns the child scopes in registration order.
func (s *Scope) Children() []*Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Scope, len(s.children))
	copy(out, s.children)
	return out
}

// AddHook registers a lifecycle hook on this scope. The hook applies to
// routes owned by this scope and its descendants, in registration order,
// after all ancestor hooks of the same kind.
func (s *Scope) AddHook(kind common.HookKind, h common.Hook) error {
	if h == nil {
		return &common.RegistrationError{Op: "hook", Detail: string(kind) + ": nil hook"}
	}
	if !validHookKind(kind) {
		return &common.RegistrationError{Op: "hook", Detail: fmt.Sprintf("unknown hook kind %q", kind)}
	}
	if s.seq.Settled() {
		return &common.RegistrationError{Op: "hook", Detail: string(kind), Err: common.ErrLateRegistration}
	}
	s.mu.Lock()
	s.hooks[kind] = append(s.hooks[kind], h)
	s.mu.Unlock()
	return nil
}

// AddCloseHook registers a hook invoked while the server drains at shutdown.
// Close hooks run child-first: a scope's hooks run before its ancestors'.
func (s *Scope) AddCloseHook(h common.CloseHook) error {
	if h == nil {
		return &common.RegistrationError{Op: "hook", Detail: "onClose: nil hook"}
	}
	if s.seq.Settled() {
		return &common.RegistrationError{Op: "hook", Detail: "onClose", Err: common.ErrLateRegistration}
	}
	s.mu.Lock()
	s.closeHooks = append(s.closeHooks, h)
	s.mu.Unlock()
	return nil
}

// Decorate attaches a named value to this scope. The decorator is visible to
// this scope and all descendants; redefining a name already visible in the
// chain is a registration error.
func (s *Scope) Decorate(name string, value any) error {
	if s.seq.Settled() {
		return &common.RegistrationError{Op: "decorator", Detail: name, Err: common.ErrLateRegistration}
	}
	if _, exists := s.Lookup(name); exists {
		return &common.RegistrationError{Op: "decorator", Detail: fmt.Sprintf("%q already decorated", name)}
	}
	s.mu.Lock()
	s.decorators[name] = value
	s.mu.Unlock()
	return nil
}

// Lookup resolves a decorator, checking this scope then its ancestors.
// It implements common.DecoratorSource.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		v, ok := cur.decorators[name]
		cur.mu.Unlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Chain returns the inherited hook chain for one kind: ancestor hooks first
// (root down to this scope), each scope's hooks in registration order.
func (s *Scope) Chain(kind common.HookKind) common.HookChain {
	var lineage []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		lineage = append(lineage, cur)
	}

	var chain common.HookChain
	for i := len(lineage) - 1; i >= 0; i-- {
		sc := lineage[i]
		sc.mu.Lock()
		chain = chain.Append(sc.hooks[kind]...)
		sc.mu.Unlock()
	}
	return chain
}

// AddRoute records a route as owned by this scope.
func (s *Scope) AddRoute(rt *router.Route) {
	s.mu.Lock()
	s.routes = append(s.routes, rt)
	s.mu.Unlock()
}

// Routes returns the routes registered directly on this scope.
func (s *Scope) Routes() []*router.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*router.Route, len(s.routes))
	copy(out, s.routes)
	return out
}

// SetSerializer overrides the serializer for this scope and its descendants.
func (s *Scope) SetSerializer(ser common.Serializer) {
	s.mu.Lock()
	s.serializer = ser
	s.mu.Unlock()
}

// EffectiveSerializer resolves the serializer for this scope, walking up to
// the nearest ancestor that set one.
func (s *Scope) EffectiveSerializer() common.Serializer {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		ser := cur.serializer
		cur.mu.Unlock()
		if ser != nil {
			return ser
		}
	}
	return nil
}

// Walk visits this scope and all descendants depth-first, children in
// registration order.
func (s *Scope) Walk(fn func(*Scope)) {
	fn(s)
	for _, c := range s.Children() {
		c.Walk(fn)
	}
}

// CloseHooks returns the close hooks for the whole subtree in child-first
// order: descendants before ancestors, each scope's hooks in reverse
// registration order.
func (s *Scope) CloseHooks() []common.CloseHook {
	var out []common.CloseHook
	children := s.Children()
	for i := len(children) - 1; i >= 0; i-- {
		out = append(out, children[i].CloseHooks()...)
	}
	s.mu.Lock()
	for i := len(s.closeHooks) - 1; i >= 0; i-- {
		out = append(out, s.closeHooks[i])
	}
	s.mu.Unlock()
	return out
}

func validHookKind(kind common.HookKind) bool {
	for _, k := range common.RequestHookKinds {
		if k == kind {
			return true
		}
	}
	return false
}
