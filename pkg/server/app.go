package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wisphttp/wisp/pkg/codec"
	"github.com/wisphttp/wisp/pkg/common"
	"github.com/wisphttp/wisp/pkg/router"
	"github.com/wisphttp/wisp/pkg/schema"
	"github.com/wisphttp/wisp/pkg/scope"
)

// ErrAlreadyClosed is returned by Close after the first successful call.
var ErrAlreadyClosed = errors.New("server already closed")

// Plugin is a unit of registration. It receives an App bound to its own
// encapsulation scope: routes, hooks, and decorators it registers are visible
// to itself and its nested plugins only. Returning an error fails the boot.
type Plugin func(app *App, opts any) error

// Combine merges plugins into one that runs them in order against the same
// scope, so a list of plugins can be registered in a single call.
func Combine(plugins ...Plugin) Plugin {
	return func(app *App, opts any) error {
		for _, p := range plugins {
			if err := p(app, opts); err != nil {
				return err
			}
		}
		return nil
	}
}

// RouteConfig describes a single route registration.
type RouteConfig struct {
	Method  string
	Path    string
	Handler common.Handler

	// Hooks run immediately before the handler, after all scope-level
	// PreHandler hooks.
	Hooks []common.Hook

	// Schema is a prototype struct the request body is decoded into and
	// validated against before the handler runs.
	Schema any

	// Timeout overrides the global request timeout when positive.
	Timeout time.Duration

	// MaxBodySize overrides the global body size limit when positive.
	MaxBodySize int64
}

// RegisterOption customizes a plugin registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	name   string
	prefix string
}

// WithName overrides the plugin name derived from the function symbol.
func WithName(name string) RegisterOption {
	return func(o *registerOptions) { o.name = name }
}

// WithPrefix prepends a path prefix to every route the plugin registers,
// nesting under any prefix of the enclosing scope.
func WithPrefix(prefix string) RegisterOption {
	return func(o *registerOptions) { o.prefix = prefix }
}

// core is the state shared by every App view of one server.
type core struct {
	config    Config
	logger    *zap.Logger
	table     *router.Table
	seq       *scope.Sequencer
	validator schema.Validator

	wg           sync.WaitGroup
	shuttingDown atomic.Bool

	mu         sync.Mutex
	closed     bool
	httpServer *http.Server
	regErr     error
}

// App is a view of the server bound to one encapsulation scope. The value
// returned by New is bound to the root scope; Register hands plugins an App
// bound to their own child scope.
type App struct {
	core   *core
	scope  *scope.Scope
	node   *scope.Node
	prefix string
}

// New creates a server from the given configuration. Plugins and routes are
// registered on the returned App; the boot runs when Ready, Wait, or Listen
// is called.
func New(config Config) *App {
	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}
	if config.Serializer == nil {
		config.Serializer = codec.NewJSON()
	}
	if config.Validator == nil {
		config.Validator = schema.New()
	}
	if config.GlobalMaxBodySize <= 0 {
		config.GlobalMaxBodySize = DefaultMaxBodySize
	}

	c := &core{
		config:    config,
		logger:    logger,
		table:     router.New(),
		seq:       scope.NewSequencer(logger),
		validator: config.Validator,
	}

	app := &App{core: c, scope: c.seq.RootScope(), node: c.seq.RootNode()}
	app.scope.SetSerializer(config.Serializer)

	// Finalization must run before any user ready callback, so it is the
	// first callback the sequencer sees.
	c.seq.OnReady(c.finalize)
	return app
}

// Logger returns the server's logger.
func (a *App) Logger() *zap.Logger { return a.core.logger }

// Scope returns the encapsulation scope this App is bound to.
func (a *App) Scope() *scope.Scope { return a.scope }

// Register runs a plugin against a fresh child scope. The plugin function is
// invoked asynchronously; sibling plugins boot concurrently and the tree
// settles only after every plugin has returned. Registration errors (a
// settled or failed tree) are returned synchronously; errors returned by the
// plugin itself surface through Ready, Wait, or Listen.
func (a *App) Register(plugin Plugin, opts any, ropts ...RegisterOption) error {
	if plugin == nil {
		return &common.RegistrationError{Op: "plugin", Detail: "nil plugin"}
	}

	o := registerOptions{name: pluginName(plugin)}
	for _, apply := range ropts {
		apply(&o)
	}

	prefix := joinPath(a.prefix, o.prefix)
	_, err := a.core.seq.Register(a.node, o.name, func(n *scope.Node) error {
		child := &App{core: a.core, scope: n.Scope(), node: n, prefix: prefix}
		return plugin(child, opts)
	})
	return err
}

// Route registers a route on this App's scope. The route inherits the scope's
// hooks, decorators, and serializer, plus any registered path prefix.
func (a *App) Route(cfg RouteConfig) error {
	rt := &router.Route{
		Method:      cfg.Method,
		Pattern:     joinPath(a.prefix, cfg.Path),
		Handler:     cfg.Handler,
		Hooks:       cfg.Hooks,
		Schema:      cfg.Schema,
		Owner:       a.scope,
		Timeout:     cfg.Timeout,
		MaxBodySize: cfg.MaxBodySize,
	}
	if err := a.core.table.Register(rt); err != nil {
		return err
	}
	a.scope.AddRoute(rt)
	return nil
}

// GET registers a GET route. Like the other method shorthands it returns the
// App for chaining; a registration failure is logged and reported by Ready,
// Wait, or Listen.
func (a *App) GET(path string, handler common.Handler, hooks ...common.Hook) *App {
	return a.shorthand(http.MethodGet, path, handler, hooks)
}

// POST registers a POST route.
func (a *App) POST(path string, handler common.Handler, hooks ...common.Hook) *App {
	return a.shorthand(http.MethodPost, path, handler, hooks)
}

// PUT registers a PUT route.
func (a *App) PUT(path string, handler common.Handler, hooks ...common.Hook) *App {
	return a.shorthand(http.MethodPut, path, handler, hooks)
}

// PATCH registers a PATCH route.
func (a *App) PATCH(path string, handler common.Handler, hooks ...common.Hook) *App {
	return a.shorthand(http.MethodPatch, path, handler, hooks)
}

// DELETE registers a DELETE route.
func (a *App) DELETE(path string, handler common.Handler, hooks ...common.Hook) *App {
	return a.shorthand(http.MethodDelete, path, handler, hooks)
}

// HEAD registers a HEAD route.
func (a *App) HEAD(path string, handler common.Handler, hooks ...common.Hook) *App {
	return a.shorthand(http.MethodHead, path, handler, hooks)
}

// OPTIONS registers an OPTIONS route.
func (a *App) OPTIONS(path string, handler common.Handler, hooks ...common.Hook) *App {
	return a.shorthand(http.MethodOptions, path, handler, hooks)
}

func (a *App) shorthand(method, path string, handler common.Handler, hooks []common.Hook) *App {
	a.recordErr(a.Route(RouteConfig{Method: method, Path: path, Handler: handler, Hooks: hooks}))
	return a
}

// Use adds OnRequest hooks to this App's scope, applying to all routes of the
// scope and its descendants.
func (a *App) Use(hooks ...common.Hook) *App {
	for _, h := range hooks {
		a.recordErr(a.scope.AddHook(common.OnRequest, h))
	}
	return a
}

// UsePrefix adds an OnRequest hook that only runs for requests whose path
// starts with the given prefix (joined under the scope's own prefix).
func (a *App) UsePrefix(prefix string, hook common.Hook) *App {
	full := joinPath(a.prefix, prefix)
	wrapped := func(req *common.Request, reply *common.Reply) error {
		if !pathHasPrefix(req.Path(), full) {
			return nil
		}
		return hook(req, reply)
	}
	a.recordErr(a.scope.AddHook(common.OnRequest, wrapped))
	return a
}

// AddHook registers a lifecycle hook of the given kind on this App's scope.
func (a *App) AddHook(kind common.HookKind, hook common.Hook) error {
	return a.scope.AddHook(kind, hook)
}

// OnClose registers a hook invoked during Close, before the server finishes
// draining. Hooks run child scopes first, reverse registration order.
func (a *App) OnClose(hook common.CloseHook) error {
	return a.scope.AddCloseHook(hook)
}

// Decorate attaches a named value visible to this scope and its descendants.
func (a *App) Decorate(name string, value any) error {
	return a.scope.Decorate(name, value)
}

// Lookup resolves a decorator from this scope or its ancestors.
func (a *App) Lookup(name string) (any, bool) {
	return a.scope.Lookup(name)
}

// SetSerializer overrides the response serializer for this scope's subtree.
func (a *App) SetSerializer(s common.Serializer) {
	a.scope.SetSerializer(s)
}

// Ready queues a callback fired once the boot has settled, receiving nil on
// success or the first boot or registration error, and starts the boot. The
// callback fires immediately if the boot already settled.
func (a *App) Ready(cb func(error)) {
	if cb != nil {
		a.core.seq.OnReady(func(err error) { cb(a.core.merged(err)) })
	}
	_ = a.core.seq.Start()
}

// Wait starts the boot if needed and blocks until it settles or the context
// is done. It returns the first boot or registration error, if any.
func (a *App) Wait(ctx context.Context) error {
	return a.core.merged(a.core.seq.Wait(ctx))
}

// Listen boots the server and serves HTTP on addr, blocking until Close or a
// listener error. A boot failure is returned without binding the listener.
func (a *App) Listen(addr string) error {
	if err := a.Wait(context.Background()); err != nil {
		return err
	}

	srv := &http.Server{Addr: addr, Handler: a}
	a.core.mu.Lock()
	if a.core.closed {
		a.core.mu.Unlock()
		return ErrAlreadyClosed
	}
	a.core.httpServer = srv
	a.core.mu.Unlock()

	a.core.logger.Info("Server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts the server down: it stops accepting connections, runs the
// registered close hooks child-first, and waits for in-flight requests to
// drain or the context to expire. Close is idempotent; later calls return
// ErrAlreadyClosed.
func (a *App) Close(ctx context.Context) error {
	c := a.core

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.closed = true
	srv := c.httpServer
	c.mu.Unlock()

	c.shuttingDown.Store(true)
	c.logger.Info("Server shutting down")

	var errs error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	for _, hook := range c.seq.RootScope().CloseHooks() {
		if err := hook(ctx); err != nil {
			c.logger.Error("Close hook failed", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("Server drained")
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("drain: %w", ctx.Err()))
	}
	return errs
}

// recordErr keeps the first registration error raised by a chaining method so
// Ready, Wait, and Listen can surface it.
func (a *App) recordErr(err error) {
	if err == nil {
		return
	}
	a.core.logger.Error("Registration failed", zap.Error(err))
	a.core.mu.Lock()
	if a.core.regErr == nil {
		a.core.regErr = err
	}
	a.core.mu.Unlock()
}

// finalize runs once the boot settles, before user ready callbacks. It
// composes each route's hook chains and serializer from its owning scope and
// seals the table. Sealing happens even when the boot failed so the table's
// state is consistent for the unready responses.
func (c *core) finalize(bootErr error) {
	for _, rt := range c.table.Routes() {
		owner, ok := rt.Owner.(*scope.Scope)
		if !ok {
			continue
		}
		rt.SetChain(common.OnRequest, owner.Chain(common.OnRequest))
		rt.SetChain(common.PreHandler, owner.Chain(common.PreHandler).Concat(rt.Hooks))
		rt.SetChain(common.OnResponse, owner.Chain(common.OnResponse))
		rt.SetChain(common.OnError, owner.Chain(common.OnError))
		rt.SetSerializer(owner.EffectiveSerializer())
	}
	c.table.Seal()

	if bootErr == nil {
		c.logger.Info("Routes sealed", zap.Int("count", len(c.table.Routes())))
	}
}

// merged folds the recorded registration error into the boot result. A boot
// error wins; a registration error surfaces only when the boot itself passed.
func (c *core) merged(bootErr error) error {
	if bootErr != nil {
		return bootErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regErr
}

// startupErr reports whether the server is in a servable state.
func (c *core) startupErr() error {
	return c.merged(c.seq.Err())
}

// pluginName derives a registration name from the plugin's function symbol.
func pluginName(plugin Plugin) string {
	name := runtime.FuncForPC(reflect.ValueOf(plugin).Pointer()).Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "plugin"
	}
	return name
}

// joinPath joins a scope prefix and a path, normalizing slashes. An empty or
// "/" path mounts at the prefix itself.
func joinPath(prefix, path string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if path == "" || path == "/" {
		if prefix == "" {
			return "/"
		}
		return prefix
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return prefix + path
}

// pathHasPrefix reports whether path falls under prefix at a segment boundary.
func pathHasPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
