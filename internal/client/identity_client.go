package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// hasRoleMethod is the identity service RPC answering role membership
// questions. Request and response are google.protobuf.Struct messages:
//
//	request:  {"user_id": ..., "role_id": ..., "company_id": ...}
//	response: {"has_role": bool}
const hasRoleMethod = "/platform.IdentityService/HasRole"

// IdentityGRPCClient implements service.AuthorizationGate against the
// platform identity gRPC service. Answers are never cached.
type IdentityGRPCClient struct {
	conn *grpc.ClientConn
}

// NewIdentityGRPCClient creates a client for the identity service at addr.
// Extra dial options are appended to the defaults (insecure transport,
// metadata forwarding).
func NewIdentityGRPCClient(addr string, opts ...grpc.DialOption) (*IdentityGRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &IdentityGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *IdentityGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// HasRole reports whether actorID holds roleID within companyID.
func (c *IdentityGRPCClient) HasRole(ctx context.Context, actorID, roleID, companyID string) (bool, error) {
	req, err := structpb.NewStruct(map[string]any{
		"user_id":    actorID,
		"role_id":    roleID,
		"company_id": companyID,
	})
	if err != nil {
		return false, err
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, hasRoleMethod, req, resp); err != nil {
		return false, fmt.Errorf("identity HasRole: %w", err)
	}

	v, ok := resp.GetFields()["has_role"]
	if !ok {
		return false, fmt.Errorf("identity HasRole: response has no has_role field")
	}
	return v.GetBoolValue(), nil
}
