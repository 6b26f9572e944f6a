// Package evalrpc defines the gamecfg.v1.Evaluation gRPC service: its
// messages, the JSON codec they travel in, and the client and server
// registration helpers.
package evalrpc

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/gamecfg/internal/model"
	"google.golang.org/grpc"
)

const (
	ServiceName         = "gamecfg.v1.Evaluation"
	EvaluateMethod      = "/" + ServiceName + "/Evaluate"
	EvaluateBatchMethod = "/" + ServiceName + "/EvaluateBatch"
)

// ClientContext carries the client attributes rules are matched against.
type ClientContext struct {
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	Country    string `json:"country,omitempty"`
	Segment    string `json:"segment,omitempty"`
}

type EvaluateRequest struct {
	GameID      string            `json:"game_id"`
	Environment model.Environment `json:"environment"`
	Key         string            `json:"key"`
	ClientContext
}

type EvaluateResponse struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	DataType model.DataType  `json:"data_type"`
	Matched  bool            `json:"matched"`
	Disabled bool            `json:"disabled"`
	RuleID   string          `json:"rule_id,omitempty"`
	// Error is set only inside a batch response, for a key that could not
	// be resolved.
	Error string `json:"error,omitempty"`
}

type EvaluateBatchRequest struct {
	GameID      string            `json:"game_id"`
	Environment model.Environment `json:"environment"`
	ClientContext
}

type EvaluateBatchResponse struct {
	Results []*EvaluateResponse `json:"results"`
}

// EvaluationServer is the server API for the Evaluation service.
type EvaluationServer interface {
	Evaluate(context.Context, *EvaluateRequest) (*EvaluateResponse, error)
	EvaluateBatch(context.Context, *EvaluateBatchRequest) (*EvaluateBatchResponse, error)
}

// RegisterEvaluationServer registers srv with s.
func RegisterEvaluationServer(s grpc.ServiceRegistrar, srv EvaluationServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EvaluationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "EvaluateBatch", Handler: evaluateBatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gamecfg/v1/evaluation",
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EvaluateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluationServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EvaluateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluationServer).Evaluate(ctx, req.(*EvaluateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func evaluateBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EvaluateBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluationServer).EvaluateBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EvaluateBatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluationServer).EvaluateBatch(ctx, req.(*EvaluateBatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// EvaluationClient is the client API for the Evaluation service.
type EvaluationClient interface {
	Evaluate(ctx context.Context, in *EvaluateRequest, opts ...grpc.CallOption) (*EvaluateResponse, error)
	EvaluateBatch(ctx context.Context, in *EvaluateBatchRequest, opts ...grpc.CallOption) (*EvaluateBatchResponse, error)
}

type evaluationClient struct {
	cc grpc.ClientConnInterface
}

// NewEvaluationClient returns a client that sends every call with the JSON
// codec.
func NewEvaluationClient(cc grpc.ClientConnInterface) EvaluationClient {
	return &evaluationClient{cc: cc}
}

func (c *evaluationClient) Evaluate(ctx context.Context, in *EvaluateRequest, opts ...grpc.CallOption) (*EvaluateResponse, error) {
	out := new(EvaluateResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, EvaluateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *evaluationClient) EvaluateBatch(ctx context.Context, in *EvaluateBatchRequest, opts ...grpc.CallOption) (*EvaluateBatchResponse, error) {
	out := new(EvaluateBatchResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, EvaluateBatchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
