package oracle

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// InvokeMethod is the full gRPC method name served by the inference service.
// Request and response are google.protobuf.StringValue.
const InvokeMethod = "/pulse.oracle.v1.ReasoningOracle/Invoke"

// #region client-struct

// GRPCOracle calls a remote inference service over gRPC.
type GRPCOracle struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor

// NewGRPCOracle connects to the inference service at addr.
func NewGRPCOracle(addr string) (*GRPCOracle, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCOracle{conn: conn, cc: conn}, nil
}

// NewGRPCOracleWithConn builds a GRPCOracle over an existing connection.
// Used for testing without a real server.
func NewGRPCOracleWithConn(cc grpc.ClientConnInterface) *GRPCOracle {
	return &GRPCOracle{cc: cc}
}

// #endregion constructor

// #region close

// Close shuts down the gRPC connection, if this oracle owns one.
func (g *GRPCOracle) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

// #endregion close

// #region invoke

// Invoke sends the prompt and returns the response text.
func (g *GRPCOracle) Invoke(ctx context.Context, prompt string) (string, error) {
	req := wrapperspb.String(prompt)
	resp := new(wrapperspb.StringValue)
	if err := g.cc.Invoke(ctx, InvokeMethod, req, resp); err != nil {
		return "", classifyGRPC(fmt.Errorf("invoke rpc: %w", err))
	}
	return resp.GetValue(), nil
}

// classifyGRPC marks retryable status codes as transient.
func classifyGRPC(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
		return NewTransientError(err)
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.Unimplemented, codes.NotFound:
		return NewFatalError(err)
	}
	return err
}

// #endregion invoke
