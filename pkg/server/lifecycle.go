package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wisphttp/wisp/pkg/common"
	"github.com/wisphttp/wisp/pkg/middleware"
	"github.com/wisphttp/wisp/pkg/router"
	"github.com/wisphttp/wisp/pkg/schema"
)

// validationBody is the response shape for schema validation failures.
type validationBody struct {
	Error      string              `json:"error"`
	StatusCode int                 `json:"statusCode"`
	Fields     []schema.FieldError `json:"fields"`
}

// ServeHTTP dispatches a request through the route table and the composed
// hook chains. The App must have finished booting; requests arriving before
// the boot settles, or after a failed boot, receive 503.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := a.core

	if c.shuttingDown.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	c.wg.Add(1)
	defer c.wg.Done()
	if c.shuttingDown.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !c.table.Sealed() || c.startupErr() != nil {
		reply := common.NewReply(w, c.config.Serializer, c.logger)
		_ = reply.Code(http.StatusServiceUnavailable).
			Send(common.NewHTTPError(http.StatusServiceUnavailable, "Server is not ready"))
		return
	}

	res := c.table.Resolve(r.Method, r.URL.Path)
	switch res.Status {
	case router.NotFound:
		reply := common.NewReply(w, c.config.Serializer, c.logger)
		_ = reply.Code(http.StatusNotFound).
			Send(common.NewHTTPError(http.StatusNotFound, "Not Found"))
	case router.MethodNotAllowed:
		reply := common.NewReply(w, c.config.Serializer, c.logger)
		_ = reply.Header("Allow", strings.Join(res.Allowed, ", ")).
			Code(http.StatusMethodNotAllowed).
			Send(common.NewHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed"))
	case router.Matched:
		c.handleRoute(w, r, res)
	}
}

func (c *core) handleRoute(w http.ResponseWriter, r *http.Request, res router.Result) {
	rt := res.Route
	start := time.Now()

	if c.config.Metrics != nil {
		c.config.Metrics.RequestStarted()
	}

	if timeout := c.effectiveTimeout(rt); timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	req := common.NewRequest(r, res.Params, rt.Owner)
	req.Pattern = rt.Pattern
	reply := common.NewReply(w, rt.Serializer(), c.logger)

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Handler panicked",
				zap.Any("panic", rec),
				zap.String("method", req.Method()),
				zap.String("path", req.Path()),
				zap.ByteString("stack", debug.Stack()),
			)
			if !reply.Sent() {
				_ = reply.Code(http.StatusInternalServerError).
					Send(common.NewHTTPError(http.StatusInternalServerError, "Internal Server Error"))
			}
		}
		c.observe(req, reply, start)
	}()

	c.dispatch(rt, req, reply)

	// OnResponse hooks are observational: the reply is flushed and errors
	// are only logged.
	if reply.Sent() {
		for _, h := range rt.Chain(common.OnResponse) {
			if err := h(req, reply); err != nil {
				c.logger.Error("OnResponse hook failed",
					zap.Error(err),
					zap.String("pattern", req.Pattern),
				)
			}
		}
	}
}

// dispatch runs the request chains and the handler, guaranteeing exactly one
// response is sent.
func (c *core) dispatch(rt *router.Route, req *common.Request, reply *common.Reply) {
	if done, err := rt.Chain(common.OnRequest).Run(req, reply); !done {
		if err != nil {
			c.sendError(rt, req, reply, err)
		}
		return
	}

	if err := c.readBody(rt, req); err != nil {
		c.sendError(rt, req, reply, err)
		return
	}
	if err := c.decodePayload(rt, req); err != nil {
		c.sendError(rt, req, reply, err)
		return
	}

	if done, err := rt.Chain(common.PreHandler).Run(req, reply); !done {
		if err != nil {
			c.sendError(rt, req, reply, err)
		}
		return
	}

	payload, err := rt.Handler(req, reply)
	if err != nil {
		c.sendError(rt, req, reply, err)
		return
	}
	if reply.Sent() {
		return
	}
	if err := reply.Send(payload); err != nil {
		c.logger.Error("Failed to send response",
			zap.Error(err),
			zap.String("pattern", req.Pattern),
		)
	}
}

// readBody reads the request body subject to the effective size limit.
func (c *core) readBody(rt *router.Route, req *common.Request) error {
	r := req.Raw
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	limited := http.MaxBytesReader(nil, r.Body, c.effectiveMaxBodySize(rt))
	body, err := io.ReadAll(limited)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return common.NewHTTPError(http.StatusRequestEntityTooLarge, "Request Entity Too Large")
		}
		return common.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}
	req.Body = body
	return nil
}

// decodePayload decodes and validates the body against the route schema.
// The decoded value is stored in req.Payload only after validation passed.
func (c *core) decodePayload(rt *router.Route, req *common.Request) error {
	if rt.Schema == nil {
		return nil
	}

	target := newSchemaValue(rt.Schema)
	if err := json.Unmarshal(req.Body, target); err != nil {
		return common.NewHTTPError(http.StatusBadRequest, "Malformed request body")
	}
	if err := c.validator.Validate(target); err != nil {
		return err
	}
	req.Payload = target
	return nil
}

// newSchemaValue allocates a fresh instance of the schema's type, so the
// prototype registered on the route is never mutated by a request.
func newSchemaValue(proto any) any {
	t := reflect.TypeOf(proto)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}

// sendError runs the OnError chain and serializes the error response. Hook
// and handler errors never leak internals: anything that is not an HTTPError
// or a ValidationError becomes a generic 500.
func (c *core) sendError(rt *router.Route, req *common.Request, reply *common.Reply, cause error) {
	for _, h := range rt.Chain(common.OnError) {
		if err := h(req, reply); err != nil {
			c.logger.Error("OnError hook failed",
				zap.Error(err),
				zap.String("pattern", req.Pattern),
			)
		}
		if reply.Sent() {
			return
		}
	}

	var httpErr *common.HTTPError
	var valErr *schema.ValidationError
	switch {
	case errors.As(cause, &httpErr):
		_ = reply.Code(httpErr.StatusCode).Send(httpErr)
	case errors.As(cause, &valErr):
		_ = reply.Code(http.StatusBadRequest).Send(validationBody{
			Error:      "Bad Request",
			StatusCode: http.StatusBadRequest,
			Fields:     valErr.Fields,
		})
	default:
		c.logger.Error("Request failed",
			zap.Error(cause),
			zap.String("method", req.Method()),
			zap.String("path", req.Path()),
			zap.String("pattern", req.Pattern),
		)
		_ = reply.Code(http.StatusInternalServerError).
			Send(common.NewHTTPError(http.StatusInternalServerError, "Internal Server Error"))
	}
}

// observe records metrics and the access log line for one completed request.
func (c *core) observe(req *common.Request, reply *common.Reply, start time.Time) {
	duration := time.Since(start)

	if c.config.Metrics != nil {
		c.config.Metrics.Observe(req.Method(), req.Pattern, reply.StatusCode(), duration, reply.BytesWritten())
	}

	if c.config.EnableAccessLog {
		fields := []zap.Field{
			zap.String("method", req.Method()),
			zap.String("path", req.Path()),
			zap.String("pattern", req.Pattern),
			zap.Int("status", reply.StatusCode()),
			zap.Duration("duration", duration),
			zap.Int64("bytes", reply.BytesWritten()),
		}
		if traceID := middleware.TraceID(req); traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}
		c.logger.Info("Request completed", fields...)
	}
}

func (c *core) effectiveTimeout(rt *router.Route) time.Duration {
	if rt.Timeout > 0 {
		return rt.Timeout
	}
	return c.config.GlobalTimeout
}

func (c *core) effectiveMaxBodySize(rt *router.Route) int64 {
	if rt.MaxBodySize > 0 {
		return rt.MaxBodySize
	}
	return c.config.GlobalMaxBodySize
}
