// Package middleware provides a collection of stock lifecycle hooks for the
// Wisp framework.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/wisphttp/wisp/pkg/common"
)

// IPSourceType defines the source for client IP addresses.
type IPSourceType string

const (
	// IPSourceRemoteAddr uses the request's RemoteAddr field.
	IPSourceRemoteAddr IPSourceType = "remote_addr"

	// IPSourceXForwardedFor uses the X-Forwarded-For header.
	IPSourceXForwardedFor IPSourceType = "x_forwarded_for"

	// IPSourceXRealIP uses the X-Real-IP header.
	IPSourceXRealIP IPSourceType = "x_real_ip"

	// IPSourceCustomHeader uses a custom header specified in the configuration.
	IPSourceCustomHeader IPSourceType = "custom_header"
)

// IPConfig defines configuration for client IP extraction.
type IPConfig struct {
	// Source specifies where to extract the client IP from.
	Source IPSourceType

	// CustomHeader is the header name used when Source is IPSourceCustomHeader.
	CustomHeader string

	// TrustProxy determines whether proxy headers like X-Forwarded-For are
	// trusted. When false, RemoteAddr is used regardless of Source.
	TrustProxy bool
}

// DefaultIPConfig returns the default IP configuration.
func DefaultIPConfig() *IPConfig {
	return &IPConfig{Source: IPSourceXForwardedFor, TrustProxy: true}
}

type clientIPKey struct{}

// ClientIP returns the client IP stored by the ClientIP hook, or "".
func ClientIP(req *common.Request) string {
	ip, _ := req.Context().Value(clientIPKey{}).(string)
	return ip
}

// ClientIPHook creates an OnRequest hook that extracts the client IP and
// stores it in the request context for later hooks and handlers.
func ClientIPHook(config *IPConfig) common.Hook {
	if config == nil {
		config = DefaultIPConfig()
	}
	return func(req *common.Request, reply *common.Reply) error {
		ip := extractClientIP(req.Raw, config)
		req.Raw = req.Raw.WithContext(context.WithValue(req.Context(), clientIPKey{}, ip))
		return nil
	}
}

func extractClientIP(r *http.Request, config *IPConfig) string {
	if !config.TrustProxy {
		return remoteAddrIP(r)
	}

	switch config.Source {
	case IPSourceXForwardedFor:
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// The leftmost entry is the original client.
			return strings.TrimSpace(strings.Split(xff, ",")[0])
		}
	case IPSourceXRealIP:
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
	case IPSourceCustomHeader:
		if ip := r.Header.Get(config.CustomHeader); ip != "" {
			return ip
		}
	}
	return remoteAddrIP(r)
}

func remoteAddrIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
