package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	platformgrpc "github.com/louisbranch/brigade/internal/platform/grpc"
	"github.com/louisbranch/brigade/internal/platform/logging"
	"github.com/louisbranch/brigade/internal/platform/timeouts"
)

// HealthService is the health status name of the ledger core.
const HealthService = "brigade.ledger"

// Server hosts the ledger runtime.
type Server struct {
	listener        net.Listener
	grpcServer      *grpc.Server
	health          *health.Server
	metricsListener net.Listener
	metricsServer   *http.Server
	runtime         *Runtime
	logger          *zap.Logger
}

// New listens on the configured addresses and prepares the gRPC and metrics
// servers over runtime.
func New(cfg Config, runtime *Runtime, logger *zap.Logger) (*Server, error) {
	if runtime == nil {
		return nil, errors.New("runtime is required")
	}
	logger = logging.OrNop(logger)
	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(platformgrpc.UnaryServerInterceptor(nil)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	s := &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		runtime:    runtime,
		logger:     logger,
	}

	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		metricsListener, err := net.Listen("tcp", addr)
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("listen metrics on %s: %w", addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		s.metricsListener = metricsListener
		s.metricsServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		}
	}
	return s, nil
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// MetricsAddr returns the metrics listener address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s == nil || s.metricsListener == nil {
		return ""
	}
	return s.metricsListener.Addr().String()
}

// Serve runs the gRPC server, the metrics server and the projection
// dispatcher until ctx ends or one of them fails. The runtime is closed on
// return.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.runtime.Close()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("ledger server listening", zap.String("addr", s.Addr()))
		if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})

	if s.metricsServer != nil {
		group.Go(func() error {
			s.logger.Info("metrics listening", zap.String("addr", s.MetricsAddr()))
			if err := s.metricsServer.Serve(s.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return s.runtime.Dispatcher.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		s.shutdown()
		return nil
	})

	return group.Wait()
}

func (s *Server) shutdown() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics shutdown failed", zap.Error(err))
		}
	}
	s.logger.Info("ledger server stopped")
}

// Run opens the runtime named by cfg and serves it until ctx ends.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	runtime, err := Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	srv, err := New(cfg, runtime, logger)
	if err != nil {
		runtime.Close()
		return err
	}
	return srv.Serve(ctx)
}

// Probe dials the ledger named by cfg and waits for its health service to
// report SERVING.
func Probe(ctx context.Context, cfg Config, logger *zap.Logger) error {
	addr := cfg.ListenAddr()
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	conn, err := platformgrpc.DialHealthy(ctx, addr, HealthService, timeouts.HealthWait, logger)
	if err != nil {
		return err
	}
	return conn.Close()
}
