package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"billingdesk/internal/dbmongo"
	"billingdesk/internal/logger"
	"billingdesk/internal/realtime"
	"billingdesk/internal/wire"
)

const serviceName = "billingdesk.notifications"

func main() {
	if err := run(); err != nil {
		log.Fatalf("pos-api: %v", err)
	}
}

// run owns every resource so that deferred cleanup also happens on startup failures.
func run() error {
	app, cleanup, err := wire.InitializeApplication()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()
	logg := app.Logger

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = dbmongo.EnsureNotificationIndexes(indexCtx, app.Mongo, app.Config.Retention())
	cancel()
	if err != nil {
		return fmt.Errorf("failed to ensure notification indexes: %w", err)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", app.Config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen for grpc on port %s: %w", app.Config.Server.GRPCPort, err)
	}

	go app.Hub.Run()
	if app.Observers.Relay != nil {
		go app.Observers.Relay.Run(ctx)
	}

	router := setupRouter(app)
	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", app.Config.Server.Host, app.Config.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(app.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(app.Config.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serveErr := make(chan error, 2)
	go func() {
		logg.Infow("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		logg.Infow("grpc health server listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("grpc server failed: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logg.Info("shutting down")
	case runErr = <-serveErr:
		logg.Errorw("server stopped, shutting down", "error", runErr)
	}
	healthServer.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Warnw("http server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	stop()

	logg.Info("server gracefully stopped")
	return runErr
}

func setupRouter(app *wire.Application) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Use(logger.HTTPMiddleware(app.Logger))

	app.Handler.RegisterRoutes(router)
	router.HandleFunc("/ws", realtime.ServeWS(app.Hub, app.Tokens, app.Service)).Methods(http.MethodGet)

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
