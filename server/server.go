// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/CeresDB/ceresshard/pkg/log"
	"github.com/CeresDB/ceresshard/server/config"
	"github.com/CeresDB/ceresshard/server/limiter"
	"github.com/CeresDB/ceresshard/server/metrics"
	httpservice "github.com/CeresDB/ceresshard/server/service/http"
	"github.com/CeresDB/ceresshard/server/sharding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultHTTPShutdownTimeout = 5 * time.Second

type Server struct {
	cfg *config.Config

	svc      *sharding.ServiceContext
	registry *sharding.Registry
	state    *sharding.ShardingState

	logLimiter   *limiter.FlowLimiter
	promRegistry *prometheus.Registry
	httpServer   *http.Server

	recoverOnce sync.Once
	// RWMutex is used to protect following fields.
	lock     sync.RWMutex
	listener net.Listener
	running  bool
	closed   bool
}

// CreateServer creates the server instance without starting any service.
func CreateServer(cfg *config.Config) (*Server, error) {
	srv := &Server{
		cfg:          cfg,
		svc:          sharding.NewServiceContext(cfg.NodeName),
		registry:     sharding.NewRegistry(),
		logLimiter:   limiter.NewFlowLimiter(cfg.LogLimiter),
		promRegistry: prometheus.NewRegistry(),
	}

	shardingMetrics := metrics.NopShardingMetrics()
	if cfg.EnableMetrics {
		srv.promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		shardingMetrics = metrics.NewPrometheusShardingMetrics(srv.promRegistry)
	}

	srv.state = srv.registry.Create(srv.svc, cfg.MaintenanceMode,
		sharding.WithMetrics(shardingMetrics),
		sharding.WithLogLimiter(srv.logLimiter),
	)

	api := httpservice.NewAPI(srv.registry, srv.svc, srv.logLimiter)
	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewAPIRouter())
	if cfg.EnableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(srv.promRegistry, promhttp.HandlerOpts{}))
	}
	srv.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// Run recovers the sharding state and starts the http service. It returns once the service is started.
// A closed server can not be run again.
func (srv *Server) Run(ctx context.Context) error {
	srv.lock.Lock()
	defer srv.lock.Unlock()

	if srv.closed {
		return ErrServerClosed
	}
	if srv.running {
		log.Warn("server has already been started")
		return nil
	}

	srv.recoverOnce.Do(srv.recoverShardingState)

	addr := fmt.Sprintf(":%d", srv.cfg.HTTPPort)
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return ErrStartHTTPService.WithCausef("listen on %s, err:%v", addr, err)
	}
	srv.listener = listener
	srv.running = true

	go func() {
		log.Info("http service started", zap.String("addr", listener.Addr().String()))
		if err := srv.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("http service exits unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

// Close stops the http service and destroys the sharding state of the process.
func (srv *Server) Close() {
	srv.lock.Lock()
	defer srv.lock.Unlock()

	if srv.running {
		ctx, cancel := context.WithTimeout(context.Background(), defaultHTTPShutdownTimeout)
		defer cancel()
		if err := srv.httpServer.Shutdown(ctx); err != nil {
			log.Error("fail to shutdown http service", zap.Error(err))
		}
		srv.running = false
	}
	srv.closed = true

	srv.registry.Remove(srv.svc)
	log.Info("server closed", zap.String("node", srv.svc.Name()))
}

// HTTPAddr returns the address the http service listens on, or an empty string if it is not started.
func (srv *Server) HTTPAddr() string {
	srv.lock.RLock()
	defer srv.lock.RUnlock()

	if srv.listener == nil {
		return ""
	}
	return srv.listener.Addr().String()
}

func (srv *Server) ServiceContext() *sharding.ServiceContext {
	return srv.svc
}

func (srv *Server) Registry() *sharding.Registry {
	return srv.registry
}

func (srv *Server) ShardingState() *sharding.ShardingState {
	return srv.state
}
