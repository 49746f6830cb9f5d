package rpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/werewolfserver/logger"
)

// HealthService is the service name reported alongside the overall status.
const HealthService = "werewolf.Game"

// HealthServer serves the standard gRPC health protocol. The game reports
// SERVING only while a game is being played.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

func NewHealthServer(addr string) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	hs := &HealthServer{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		listener:   listener,
	}
	healthpb.RegisterHealthServer(hs.grpcServer, hs.health)
	hs.SetServing(false)
	return hs, nil
}

func (h *HealthServer) Addr() string {
	return h.listener.Addr().String()
}

func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
}

func (h *HealthServer) Start() {
	logger.Log.Infof("Health server listening on %s", h.Addr())
	if err := h.grpcServer.Serve(h.listener); err != nil {
		logger.Log.Errorf("health server stopped: %v", err)
	}
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpcServer.Stop()
}
