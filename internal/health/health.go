// Package health exposes the ingest loop's state over the standard gRPC
// health protocol.
package health

import (
	"errors"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
)

// ServiceName is the health service name probes can ask about.  The empty
// name reports the same status.
const ServiceName = "gatekeeper.ingest"

// Reporter maps loop states to serving status: SERVING while the bus
// session is up, NOT_SERVING otherwise.
type Reporter struct {
	hs *grpchealth.Server
}

func NewReporter() *Reporter {
	r := &Reporter{hs: grpchealth.NewServer()}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// Observe is an IngestLoop state callback.
func (r *Reporter) Observe(s service.State) {
	if s == service.StateDisconnected {
		r.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	r.set(healthpb.HealthCheckResponse_SERVING)
}

func (r *Reporter) set(st healthpb.HealthCheckResponse_ServingStatus) {
	r.hs.SetServingStatus("", st)
	r.hs.SetServingStatus(ServiceName, st)
}

// Server is a gRPC server carrying only the health service.
type Server struct {
	addr     string
	grpc     *grpc.Server
	reporter *Reporter
}

func NewServer(addr string, r *Reporter) *Server {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, r.hs)
	return &Server{addr: addr, grpc: gs, reporter: r}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop flips every service to NOT_SERVING and drains open RPCs.
func (s *Server) Stop() {
	s.reporter.hs.Shutdown()
	s.grpc.GracefulStop()
}
