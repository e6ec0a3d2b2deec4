package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer carries the health service that load balancers and
// orchestrators probe. Predictions are served over REST only.
type GRPCServer struct {
	*grpc.Server
	health *health.Server
}

func NewGRPCServer(log zerolog.Logger) *GRPCServer {
	server := grpc.NewServer(grpc.UnaryInterceptor(unaryLogger(log)))
	healthServer := health.NewServer()

	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	return &GRPCServer{Server: server, health: healthServer}
}

// SetServing flips the overall health status.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Stop marks the server as not serving and drains in-flight calls.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.GracefulStop()
}

func unaryLogger(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		event := log.Debug()
		if err != nil {
			event = log.Warn().Err(err)
		}
		event.Str("method", info.FullMethod).Dur("latency", time.Since(start)).Msg("grpc call")
		return resp, err
	}
}
