package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-speaking-assessment-service/internal/app"
	"ai-speaking-assessment-service/internal/config"
	apihttp "ai-speaking-assessment-service/internal/http"
	"ai-speaking-assessment-service/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	metricsServer := observability.NewServer(cfg.Service.MetricsAddr, application.Ready)
	metricsServer.Start()

	httpServer := &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: apihttp.NewRouter(&apihttp.API{
			Queue:     application.Queue,
			Pipeline:  application.Store,
			Scenarios: application.Scenarios,
			Audio:     application.Audio,
			Ready:     application.Ready,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP API started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}

	server := grpc.NewServer(grpc.UnaryInterceptor(observability.UnaryServerInterceptor()))

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("ai.speaking.assessment.Workers", grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := server.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP API shutdown incomplete")
	}
	application.Shutdown(ctx)
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown incomplete")
	}
	server.GracefulStop()
}
