package scope

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/wisphttp/wisp/pkg/common"
)

// Node wraps a scope while its plugin boots. Nodes exist only during boot;
// the tree is released once it settles and the effects persist in the scopes.
type Node struct {
	scope    *Scope
	name     string
	parent   *Node
	children []*Node
	fnDone   bool
	err      error
}

// Scope returns the scope this node populates.
func (n *Node) Scope() *Scope { return n.scope }

// Name returns the plugin name the node was registered under.
func (n *Node) Name() string { return n.name }

// Sequencer walks the plugin tree, invokes each plugin function exactly once,
// and fires a single ordered ready signal after every node has settled.
// Sibling plugins boot concurrently in their own goroutines; registration is
// serialized under the sequencer's lock (single-writer phase), and the tree
// is immutable once settled.
type Sequencer struct {
	logger *zap.Logger

	mu        sync.Mutex
	root      *Node
	rootScope *Scope
	pending   int
	started   bool
	settled   bool
	failed    bool
	settleErr error
	readyCbs  []func(error)
	done      chan struct{}
}

// NewSequencer creates a sequencer with a fresh root scope. The root node is
// considered Booting until Start is called: top-level registrations made
// before Start are its children.
func NewSequencer(logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Sequencer{logger: logger, done: make(chan struct{})}
	q.rootScope = newScope(nil, q, "root")
	q.rootScope.setState(Booting)
	q.root = &Node{scope: q.rootScope, name: "root"}
	return q
}

// RootScope returns the root of the scope tree.
func (q *Sequencer) RootScope() *Scope { return q.rootScope }

// RootNode returns the boot node for the root scope, or nil after settle.
func (q *Sequencer) RootNode() *Node {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.root
}

// Settled reports whether the whole tree has settled.
func (q *Sequencer) Settled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settled
}

// Err returns the recorded boot error once settled, or nil.
func (q *Sequencer) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settleErr
}

// Register creates a child scope under the parent node and invokes fn against
// it in a new goroutine. fn's error return is the normalized completion
// signal: nil marks the node's own work done, non-nil fails it. Registration
// is refused once the tree has settled or after the first failure has been
// recorded.
func (q *Sequencer) Register(parent *Node, name string, fn func(*Node) error) (*Node, error) {
	q.mu.Lock()
	if q.settled {
		q.mu.Unlock()
		return nil, &common.RegistrationError{Op: "plugin", Detail: name, Err: common.ErrLateRegistration}
	}
	if q.failed {
		q.mu.Unlock()
		return nil, &common.RegistrationError{Op: "plugin", Detail: name + ": boot already failed"}
	}
	if parent == nil {
		parent = q.root
	}

	child := parent.scope.child(q, name)
	node := &Node{scope: child, name: name, parent: parent}
	parent.children = append(parent.children, node)
	q.pending++
	q.mu.Unlock()

	go q.run(node, fn)
	return node, nil
}

func (q *Sequencer) run(node *Node, fn func(*Node) error) {
	node.scope.setState(Booting)
	q.logger.Debug("Plugin booting", zap.String("plugin", node.name))

	err := invoke(node, fn)
	if err != nil {
		q.logger.Error("Plugin boot failed", zap.String("plugin", node.name), zap.Error(err))
	} else {
		q.logger.Debug("Plugin function returned", zap.String("plugin", node.name))
	}
	q.complete(node, err)
}

// invoke runs the plugin function, converting a panic into a boot error.
func invoke(node *Node, fn func(*Node) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %q panicked: %v\n%s", node.name, r, debug.Stack())
		}
	}()
	return fn(node)
}

// complete records a node's own result and advances ready states upward.
func (q *Sequencer) complete(node *Node, err error) {
	q.mu.Lock()
	node.fnDone = true
	if err != nil {
		node.err = err
		q.failed = true
		node.scope.setState(Failed)
	} else {
		q.tryReady(node)
	}
	q.pending--
	fire := q.maybeSettleLocked()
	q.mu.Unlock()

	q.fireReady(fire)
}

// tryReady marks a node Ready when its own function has returned without
// error and every child is Ready, then re-checks its parent. Caller holds mu.
func (q *Sequencer) tryReady(node *Node) {
	for node != nil {
		if !node.fnDone || node.err != nil {
			return
		}
		for _, c := range node.children {
			if c.scope.State() != Ready {
				return
			}
		}
		node.scope.setState(Ready)
		node = node.parent
	}
}

// Start marks the top level of the tree complete: no further top-level
// registrations are expected and the tree settles as soon as every pending
// node finishes. Start is idempotent; once the tree has settled it returns
// the recorded boot error without re-running anything.
func (q *Sequencer) Start() error {
	q.mu.Lock()
	if q.settled {
		err := q.settleErr
		q.mu.Unlock()
		return err
	}
	if !q.started {
		q.started = true
		q.root.fnDone = true
	}
	fire := q.maybeSettleLocked()
	q.mu.Unlock()

	q.fireReady(fire)
	return nil
}

// maybeSettleLocked settles the tree once Start has been called and no node
// is pending. It returns the ready callbacks to fire, or nil. Caller holds mu.
func (q *Sequencer) maybeSettleLocked() []func(error) {
	if q.settled || !q.started || q.pending > 0 {
		return nil
	}

	q.tryReady(q.root)
	q.settleErr = firstError(q.root)
	finalizeStates(q.root)
	q.settled = true

	// The boot tree is no longer needed; its effects live in the scopes.
	q.root = nil
	close(q.done)

	cbs := q.readyCbs
	q.readyCbs = nil

	if q.settleErr != nil {
		q.logger.Error("Boot settled with error", zap.Error(q.settleErr))
	} else {
		q.logger.Info("Boot settled, all plugins ready")
	}
	return cbs
}

func (q *Sequencer) fireReady(cbs []func(error)) {
	if cbs == nil {
		return
	}
	err := q.Err()
	for _, cb := range cbs {
		cb(err)
	}
}

// firstError returns the first own error in depth-first, registration-order
// traversal: the earliest node whose own failure poisoned the tree.
func firstError(node *Node) error {
	if node.err != nil {
		return &BootError{Plugin: node.name, Err: node.err}
	}
	for _, c := range node.children {
		if err := firstError(c); err != nil {
			return err
		}
	}
	return nil
}

// finalizeStates flips every scope that is not Ready to Failed: a failed
// descendant fails its ancestors, while already-Ready siblings keep their
// state.
func finalizeStates(node *Node) {
	if node.scope.State() != Ready {
		node.scope.setState(Failed)
	}
	for _, c := range node.children {
		finalizeStates(c)
	}
}

// OnReady queues a callback fired exactly once after the tree settles, with
// nil on success or the first-encountered boot error. Callbacks registered
// after settle are invoked immediately.
func (q *Sequencer) OnReady(cb func(error)) {
	q.mu.Lock()
	if q.settled {
		err := q.settleErr
		q.mu.Unlock()
		cb(err)
		return
	}
	q.readyCbs = append(q.readyCbs, cb)
	q.mu.Unlock()
}

// Wait starts the sequencer if needed and blocks until the tree settles or
// the context is done. It returns the recorded boot error, if any.
func (q *Sequencer) Wait(ctx context.Context) error {
	if err := q.Start(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return q.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
