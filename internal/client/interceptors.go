package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// forwardedKeys are the incoming metadata keys copied onto role lookups. The
// identity service authorizes the lookup with the caller's token and scopes
// it by company; everything else stays on this hop.
var forwardedKeys = []string{"authorization", "x-company-id", "x-user-id", "x-request-id"}

// forwardMetadata copies forwardedKeys from the approve, reject or cancel call
// being served onto the outgoing HasRole request.
func forwardMetadata(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	in, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return invoker(ctx, method, req, reply, cc, opts...)
	}
	out, _ := metadata.FromOutgoingContext(ctx)
	out = out.Copy()
	for _, key := range forwardedKeys {
		if v := in.Get(key); len(v) > 0 && len(out.Get(key)) == 0 {
			out.Set(key, v...)
		}
	}
	return invoker(metadata.NewOutgoingContext(ctx, out), method, req, reply, cc, opts...)
}
