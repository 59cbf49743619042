// Package handler serves grpc.health.v1 for orchestrators that probe over gRPC.
package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the named service reported alongside the overall ("") status.
const ServiceName = "menuet.Gateway"

// Gate reports process readiness. *readiness.Gate implements it.
type Gate interface {
	Healthy() bool
}

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA guard evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server mirrors the readiness gate as grpc.health.v1 status. Once the gate is healthy, a failing
// database ping or policy check still reports NOT_SERVING.
type Server struct {
	healthpb.UnimplementedHealthServer
	gate   Gate
	pinger Pinger
	policy PolicyChecker
}

// NewServer returns a health server. pinger and policy may be nil.
func NewServer(gate Gate, pinger Pinger, policy PolicyChecker) *Server {
	return &Server{gate: gate, pinger: pinger, policy: policy}
}

// Check returns SERVING only when every configured check passes. Check failures never become gRPC errors.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	return &healthpb.HealthCheckResponse{Status: s.status(ctx)}, nil
}

func (s *Server) status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if s.gate != nil && !s.gate.Healthy() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	if s.pinger != nil {
		if err := s.pinger.PingContext(ctx); err != nil {
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}
