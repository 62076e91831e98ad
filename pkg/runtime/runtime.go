// Package runtime assembles and runs the steering bridge.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appconfig "github.com/saker-ai/i2v-steer/internal/config"
	apphttp "github.com/saker-ai/i2v-steer/internal/http"
	applogger "github.com/saker-ai/i2v-steer/internal/logger"
	"github.com/saker-ai/i2v-steer/internal/storage"
	"github.com/saker-ai/i2v-steer/internal/ws"
	"github.com/saker-ai/i2v-steer/pkg/genclient"
)

const shutdownTimeout = 5 * time.Second

// Server represents a server.
type Server struct {
	cfg    appconfig.Config
	logger *zap.Logger
	server *http.Server
}

// Setup loads the config at configPath and builds the logger for it.
func Setup(configPath string) (appconfig.Config, *zap.Logger, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return appconfig.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("log config rejected, using production defaults", zap.Error(err))
	}
	logger.Info("config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.Duration("throttle", cfg.Control.Throttle),
		zap.Duration("retrigger_interval", cfg.Control.RetriggerInterval),
	)
	return cfg, logger, nil
}

// NewBackend builds the generation backend client for cfg.
func NewBackend(cfg appconfig.Config, logger *zap.Logger) *genclient.Client {
	return genclient.NewClient(genclient.Config{
		BaseURL: cfg.Backend.BaseURL,
		Endpoints: genclient.Endpoints{
			Process: cfg.Backend.Endpoints.Process,
			Reset:   cfg.Backend.Endpoints.Reset,
			Status:  cfg.Backend.Endpoints.Status,
		},
		Timeout: cfg.Backend.RequestTimeout,
	}, logger.Named("backend"))
}

// New wires the bridge for cfg.
func New(cfg appconfig.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var journal *storage.Journal
	if cfg.Journal.Enabled {
		j, err := storage.NewJournal(cfg.Journal.Dir)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		journal = j
	}

	backend := NewBackend(cfg, logger)
	wsHandler := ws.NewHandler(logger.Named("ws"), cfg, backend, journal)
	router := apphttp.NewRouter(apphttp.Deps{
		Config:  cfg,
		WS:      wsHandler,
		Backend: backend,
		Journal: journal,
	}, logger)

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreServerClosed(serve(s.server, ln, s.cfg.TLS, s.cfg.Host, s.logger))
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down http server")
		return ignoreServerClosed(s.server.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

func ignoreServerClosed(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
