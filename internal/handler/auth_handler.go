package handler

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Login checks the caller's credentials with the backend and hands back
// the backend's token, which is the bearer for the other methods. The
// scheduler's own session is not touched.
func (h *Handler) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email := field(req, "email")
	password := field(req, "password")
	if email == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password required")
	}

	tok, claims, err := h.api.Authenticate(ctx, email, password)
	if err != nil {
		st := toStatus(err)
		// the backend answers bad credentials with 400 or 401
		switch status.Code(st) {
		case codes.InvalidArgument, codes.Unauthenticated:
			return nil, status.Error(codes.Unauthenticated, "invalid credentials")
		}
		return nil, st
	}

	out := map[string]any{
		"token":  tok,
		"userId": claims.UserID,
		"role":   claims.Role(),
	}
	if !claims.ExpiresAt.IsZero() {
		out["expiresAt"] = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(out)
}

func field(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[name]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}
