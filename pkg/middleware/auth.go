package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wisphttp/wisp/pkg/common"
)

// AuthFunc validates a bearer token and returns the authenticated user.
type AuthFunc func(ctx context.Context, token string) (any, bool)

type authUserKey struct{}

// AuthUser returns the user stored by a bearer auth hook, or nil.
func AuthUser(req *common.Request) any {
	return req.Context().Value(authUserKey{})
}

// RequireBearer creates a PreHandler hook that rejects requests without a
// valid bearer token with a 401 response. The authenticated user is stored in
// the request context.
func RequireBearer(authFn AuthFunc, logger *zap.Logger) common.Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(req *common.Request, reply *common.Reply) error {
		user, ok := authenticate(req, authFn)
		if !ok {
			logger.Warn("Authentication failed",
				zap.String("method", req.Method()),
				zap.String("path", req.Path()),
			)
			return common.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}
		req.Raw = req.Raw.WithContext(context.WithValue(req.Context(), authUserKey{}, user))
		return nil
	}
}

// OptionalBearer creates a PreHandler hook that stores the authenticated user
// in the request context when a valid bearer token is present, and lets the
// request proceed either way.
func OptionalBearer(authFn AuthFunc, logger *zap.Logger) common.Hook {
	return func(req *common.Request, reply *common.Reply) error {
		if user, ok := authenticate(req, authFn); ok {
			req.Raw = req.Raw.WithContext(context.WithValue(req.Context(), authUserKey{}, user))
		}
		return nil
	}
}

func authenticate(req *common.Request, authFn AuthFunc) (any, bool) {
	header := req.Header("Authorization")
	if header == "" {
		return nil, false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	return authFn(req.Context(), token)
}
