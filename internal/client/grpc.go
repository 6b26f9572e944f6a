package client

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// GRPCClient implements Evaluator using the gRPC Evaluation service.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client evalrpc.EvaluationClient
	token  string
}

var _ Evaluator = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
// Extra dial options are appended after the defaults.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{
		conn:   conn,
		client: evalrpc.NewEvaluationClient(conn),
		token:  token,
	}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *GRPCClient) Evaluate(ctx context.Context, req *evalrpc.EvaluateRequest) (*evalrpc.EvaluateResponse, error) {
	return c.client.Evaluate(c.outgoing(ctx), req)
}

func (c *GRPCClient) EvaluateBatch(ctx context.Context, req *evalrpc.EvaluateBatchRequest) (*evalrpc.EvaluateBatchResponse, error) {
	return c.client.EvaluateBatch(c.outgoing(ctx), req)
}
