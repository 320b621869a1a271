package main

import (
	"net/http"
	"time"

	config "github.com/NordCoder/sessiongate/internal/config/auth-service"
	"github.com/NordCoder/sessiongate/internal/obs"
	"go.uber.org/zap"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, st *store, svc *service) *http.Server {
	mux := http.NewServeMux()
	svc.server.Register(mux)
	obs.MountOps(mux, st.health)

	handler := obs.CORS(cfg.Server.CORSOrigins)(mux)
	handler = obs.HTTPHandler(handler, "auth-service")

	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
}

func serveHTTP(srv *http.Server, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
	return srv.ListenAndServe()
}
