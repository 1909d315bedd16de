// Package server assembles the Wisp framework: it ties the route table, the
// scope tree, the boot sequencer, and the request lifecycle into a single App
// that plugins register against and net/http serves from.
package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/wisphttp/wisp/pkg/common"
	"github.com/wisphttp/wisp/pkg/metrics"
	"github.com/wisphttp/wisp/pkg/schema"
)

// DefaultMaxBodySize caps request bodies when no limit is configured.
const DefaultMaxBodySize int64 = 1 << 20 // 1 MB

// Config holds the global configuration for an App.
type Config struct {
	// Logger is used for all logging. Defaults to a production zap logger.
	Logger *zap.Logger

	// Serializer is the root serializer for response payloads. Scopes may
	// override it for their subtree. Defaults to the JSON codec.
	Serializer common.Serializer

	// Validator checks decoded request bodies against route schemas.
	// Defaults to the struct-tag validator.
	Validator schema.Validator

	// GlobalTimeout bounds request handling when positive. Routes may
	// override it. The deadline is applied through the request context.
	GlobalTimeout time.Duration

	// GlobalMaxBodySize caps request body size in bytes. Routes may override
	// it. Defaults to DefaultMaxBodySize.
	GlobalMaxBodySize int64

	// EnableAccessLog emits one log line per completed request.
	EnableAccessLog bool

	// Metrics collects request metrics when non-nil.
	Metrics *metrics.RequestMetrics
}
