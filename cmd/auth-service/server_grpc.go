package main

import (
	"net"

	config "github.com/NordCoder/sessiongate/internal/config/auth-service"
	"github.com/NordCoder/sessiongate/internal/obs"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// opsServer serves gRPC health checking for orchestrator probes.
type opsServer struct {
	server *grpc.Server
	health *health.Server
	ln     net.Listener
	addr   string
}

func buildGRPCServer(cfg *config.Config) (*opsServer, error) {
	grpcMetrics := grpcprometheus.NewServerMetrics()

	opts := obs.GRPCServerOpts()
	opts = append(opts,
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	s := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("sessiongate.auth", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	grpcMetrics.InitializeMetrics(s)
	if err := registerGRPCMetrics(grpcMetrics); err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, err
	}
	return &opsServer{server: s, health: hs, ln: ln, addr: cfg.Server.GRPCAddr}, nil
}

func (o *opsServer) serve(logger *zap.Logger) error {
	logger.Info("grpc listening", zap.String("addr", o.addr))
	return o.server.Serve(o.ln)
}
