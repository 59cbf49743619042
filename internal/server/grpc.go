// Package server assembles the gRPC server exposed next to the gateway's HTTP endpoints.
package server

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "github.com/svenmapprio/menuet/internal/health/handler"
	"github.com/svenmapprio/menuet/internal/server/interceptors"
)

// healthCheckMethod is polled by orchestrators; successful checks are not logged.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the dependencies of the registered services.
type Deps struct {
	// Gate is the readiness gate mirrored by the health service. If nil, the gate is not consulted.
	Gate healthhandler.Gate
	// HealthPinger is used for readiness (e.g. *sql.DB). If nil, the DB ping is skipped.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used for readiness (e.g. the OPA guard evaluator). If nil, the policy check is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
}

// NewGRPCServer returns a server with tracing, logging and panic recovery installed.
func NewGRPCServer(log zerolog.Logger) *grpc.Server {
	return grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(log),
			interceptors.LoggingUnary(log, map[string]bool{healthCheckMethod: true}),
		),
	)
}

// RegisterServices registers every gRPC service with s.
//
// Service → handler mapping:
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.Gate, deps.HealthPinger, deps.HealthPolicyChecker))
}
