package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// UnaryServerInterceptor authenticates gRPC calls from the "authorization"
// metadata entry. Methods listed in skip (full method names) bypass it.
func UnaryServerInterceptor(v *Verifier, load UserLoader, skip ...string) grpc.UnaryServerInterceptor {
	skipped := make(map[string]struct{}, len(skip))
	for _, m := range skip {
		skipped[m] = struct{}{}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := skipped[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		uc, err := v.Authenticate(ctx, header, load)
		if err != nil {
			if errors.CodeOf(err) == errors.ErrCodeInternal {
				return nil, status.Error(codes.Internal, "failed to authenticate")
			}
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithUserContext(ctx, uc), req)
	}
}
