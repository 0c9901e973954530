package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"klinika-scheduler/internal/auth"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const claimsKey ctxKey = "claims"

const service = "/klinika.scheduler.v1.Scheduler/"

// skip auth for these
var open = map[string]bool{
	service + "Login": true,
	service + "Slots": true,
}

// role required on top of a valid token
var required = map[string][]string{
	service + "Sweep": {auth.RoleAdmin},
}

// Auth reads the bearer token. With a secret the signature is checked.
// Without one the token is decoded and check asks the backend whether it is
// real; with neither every token is refused.
func Auth(secret string, check *BackendCheck) grpc.UnaryServerInterceptor {
	return authWithClock(secret, check, time.Now)
}

func authWithClock(secret string, check *BackendCheck, now func() time.Time) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return next(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		// token from Authorization: Bearer <jwt>
		raw := ""
		vals := md.Get("authorization")
		if len(vals) > 0 {
			raw = strings.TrimPrefix(vals[0], "Bearer ")
		}
		if raw == "" {
			return nil, status.Error(codes.Unauthenticated, "no token")
		}

		var claims *auth.Claims
		var err error
		if secret != "" {
			claims, err = auth.Verify(raw, secret)
		} else {
			claims, err = auth.Decode(raw)
		}
		if err != nil || claims.Expired(now()) {
			return nil, status.Error(codes.Unauthenticated, "bad token")
		}
		if secret == "" {
			if check == nil {
				return nil, status.Error(codes.Unauthenticated, "token cannot be verified")
			}
			claims, err = check.Confirm(ctx, raw, claims)
			switch {
			case errors.Is(err, ErrRejected):
				return nil, status.Error(codes.Unauthenticated, "bad token")
			case err != nil:
				return nil, status.Error(codes.Unavailable, "cannot confirm token")
			}
		}

		if roles := required[info.FullMethod]; len(roles) > 0 && !claims.HasRole(roles...) {
			return nil, status.Error(codes.PermissionDenied, "not allowed")
		}

		return next(WithClaims(ctx, claims), req)
	}
}

func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFrom returns the caller's claims, nil on open methods.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}
