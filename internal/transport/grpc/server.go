package grpc

import (
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	googleGrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server exposes the standard gRPC health service for the storefront process.
type Server struct {
	srv     *googleGrpc.Server
	health  *health.Server
	service string
	logger  *zap.Logger
}

func NewServer(serviceName string, logger *zap.Logger) *Server {
	srv := googleGrpc.NewServer(
		googleGrpc.StatsHandler(otelgrpc.NewServerHandler()),
		googleGrpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		googleGrpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	reflection.Register(srv)
	grpc_prometheus.Register(srv)

	return &Server{
		srv:     srv,
		health:  healthServer,
		service: serviceName,
		logger:  logger,
	}
}

// Serve marks the process SERVING and blocks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(s.service, healthpb.HealthCheckResponse_SERVING)

	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))

	return s.srv.Serve(lis)
}

// Stop flips every status to NOT_SERVING before draining connections.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()

	s.logger.Info("gRPC server stopped")
}
