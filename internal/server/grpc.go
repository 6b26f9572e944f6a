package server

import (
	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the Evaluation service, the health service and reflection, and returns the
// server ready to serve along with its health server so the caller can flip
// serving status on shutdown.
func NewGRPCServer(cs *ConfigServer, authToken string) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
	)

	evalrpc.RegisterEvaluationServer(srv, cs)

	hs := health.NewServer()
	hs.SetServingStatus(evalrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv, hs
}
