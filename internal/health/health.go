// Package health exposes the standard gRPC health service so ground
// equipment on the payload bus can poll the flight software.
package health

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/onboard-cloud-filter/internal/logging"
)

// Service names reported alongside the overall ("") status.
const (
	PipelineService = "onboard.Pipeline"
	DownlinkService = "onboard.Downlink"
)

// Server is a gRPC server carrying only the health service. Calls are traced
// through the global OpenTelemetry provider.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	log    logging.Logger
}

// NewServer returns a server reporting NOT_SERVING for every service until
// SetServing is called.
func NewServer(log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		grpc: grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
			grpc.ChainUnaryInterceptor(LoggerUnaryServerInterceptor(log)),
		),
		health: grpchealth.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	for _, svc := range []string{"", PipelineService, DownlinkService} {
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "serving gRPC health", logging.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// SetServing marks service (or the whole server for "") as serving or not.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Stop flips every service to NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// LoggerUnaryServerInterceptor attaches a logger annotated with the method
// name to the request context.
func LoggerUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		reqLog := base.With(logging.String("method", info.FullMethod))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		resp, err := handler(ctx, req)
		if err != nil {
			reqLog.Debug(ctx, "rpc failed", logging.Err(err))
		}
		return resp, err
	}
}
