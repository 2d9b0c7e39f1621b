// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/CeresDB/ceresshard/pkg/coderr"
	"github.com/CeresDB/ceresshard/pkg/log"
	"github.com/CeresDB/ceresshard/server/config"
	"github.com/CeresDB/ceresshard/server/limiter"
	"github.com/CeresDB/ceresshard/server/sharding"
	"go.uber.org/zap"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	maxRecoveryWaitTimeout = time.Minute
)

type API struct {
	registry   *sharding.Registry
	svc        *sharding.ServiceContext
	logLimiter *limiter.FlowLimiter
}

func NewAPI(registry *sharding.Registry, svc *sharding.ServiceContext, logLimiter *limiter.FlowLimiter) *API {
	return &API{
		registry:   registry,
		svc:        svc,
		logLimiter: logLimiter,
	}
}

func (a *API) NewAPIRouter() *Router {
	router := New().WithPrefix("/api/v1").WithInstrumentation(printRequestInsmt)

	router.Get("/shardingState", a.getShardingState)
	router.Get("/shardingState/recovery", a.awaitRecovery)
	router.Get("/logLimiter", a.getLogLimiter)
	router.Post("/logLimiter", a.updateLogLimiter)
	router.Post("/logLimiter/unlimited/:event", a.unlimitLogEvent)
	router.Post("/logLimiter/limited/:event", a.limitLogEvent)

	return router
}

// printRequestInsmt used for printing every request information.
func printRequestInsmt(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		log.Debug("receive http request", zap.String("handlerName", handlerName), zap.String("client host", request.RemoteAddr), zap.String("method", request.Method), zap.String("params", request.URL.RawQuery))
		handler.ServeHTTP(writer, request)
	}
}

type response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	Code   int         `json:"code,omitempty"`
}

func respond(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, response{Status: statusSuccess, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	code, ok := coderr.GetCauseCode(err)
	if !ok {
		code = coderr.Internal
	}
	writeJSON(w, code.ToHTTPCode(), response{Status: statusError, Error: err.Error(), Code: int(code)})
}

func writeJSON(w http.ResponseWriter, httpCode int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("fail to write http response", zap.Error(err))
	}
}

// ShardingStateResponse describes the sharding state of the node to the operators.
type ShardingStateResponse struct {
	MaintenanceMode        bool   `json:"maintenanceMode"`
	Enabled                bool   `json:"enabled"`
	Initialized            bool   `json:"initialized"`
	RecoveryError          string `json:"recoveryError,omitempty"`
	Role                   string `json:"role,omitempty"`
	ShardID                string `json:"shardId,omitempty"`
	ClusterID              string `json:"clusterId,omitempty"`
	ConfigConnectionString string `json:"configConnectionString,omitempty"`
	Phase                  string `json:"phase"`
}

func newShardingStateResponse(state *sharding.ShardingState) ShardingStateResponse {
	guard := state.AcquireShared()
	defer guard.Release()

	resp := ShardingStateResponse{
		MaintenanceMode: state.InMaintenanceMode(),
		Enabled:         state.Enabled(),
		Phase:           guard.Phase(),
	}
	if err := state.RecoveryFailure(); err != nil {
		resp.RecoveryError = err.Error()
	}
	if role, ok := state.PollRecoveredClusterRole(); ok {
		resp.Initialized = true
		resp.Role = role.Role.String()
		resp.ShardID = string(role.ShardID)
		resp.ClusterID = role.ClusterID.String()
		resp.ConfigConnectionString = role.ConfigShardConnectionString.String()
	}
	return resp
}

func (a *API) getShardingState(writer http.ResponseWriter, _ *http.Request) {
	state := a.registry.Get(a.svc)
	if state == nil {
		respondError(writer, ErrShardingStateNotFound.WithCausef("service:%s", a.svc.Name()))
		return
	}
	respond(writer, newShardingStateResponse(state))
}

// awaitRecovery waits for the recovery of the sharding state, at most for the duration given by the `timeout` query
// parameter. The recovery error is returned if it failed.
func (a *API) awaitRecovery(writer http.ResponseWriter, req *http.Request) {
	state := a.registry.Get(a.svc)
	if state == nil {
		respondError(writer, ErrShardingStateNotFound.WithCausef("service:%s", a.svc.Name()))
		return
	}

	timeout := time.Duration(0)
	if v := req.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			respondError(writer, ErrParseRequest.WithCausef("invalid timeout:%q", v))
			return
		}
		timeout = min(d, maxRecoveryWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	f := state.AwaitRecovery()
	select {
	case <-f.Done():
	case <-ctx.Done():
	}

	if !f.IsReady() {
		respondError(writer, sharding.ErrShardingStateNotInitialized.WithCausef("recovery is not finished after %s", timeout))
		return
	}
	if _, err := f.Get(); err != nil {
		respondError(writer, err)
		return
	}
	respond(writer, newShardingStateResponse(state))
}

func (a *API) getLogLimiter(writer http.ResponseWriter, _ *http.Request) {
	respond(writer, a.logLimiter.GetConfig())
}

type updateLogLimiterRequest struct {
	Enable                        bool `json:"enable"`
	TokenBucketFillRate           int  `json:"tokenBucketFillRate"`
	TokenBucketBurstEventCapacity int  `json:"tokenBucketBurstEventCapacity"`
}

// updateLogLimiter replaces the throttle of the noisy log events. The unlimited events are kept.
func (a *API) updateLogLimiter(writer http.ResponseWriter, req *http.Request) {
	var updateReq updateLogLimiterRequest
	if err := json.NewDecoder(req.Body).Decode(&updateReq); err != nil {
		respondError(writer, ErrParseRequest.WithCause(err))
		return
	}

	cfg := config.LimiterConfig{
		Enable:                        updateReq.Enable,
		TokenBucketFillRate:           updateReq.TokenBucketFillRate,
		TokenBucketBurstEventCapacity: updateReq.TokenBucketBurstEventCapacity,
	}
	if err := cfg.Validate(); err != nil {
		respondError(writer, ErrParseRequest.WithCause(err))
		return
	}

	if err := a.logLimiter.UpdateLimiter(cfg); err != nil {
		respondError(writer, ErrUpdateLogLimiter.WithCause(err))
		return
	}
	log.Info("log limiter updated", zap.Bool("enable", cfg.Enable), zap.Int("fillRate", cfg.TokenBucketFillRate), zap.Int("burst", cfg.TokenBucketBurstEventCapacity))
	respond(writer, a.logLimiter.GetConfig())
}

func (a *API) unlimitLogEvent(writer http.ResponseWriter, req *http.Request) {
	event := Param(req.Context(), "event")
	a.logLimiter.UpdateUnLimitList([]string{event}, nil)
	respond(writer, a.logLimiter.GetConfig())
}

func (a *API) limitLogEvent(writer http.ResponseWriter, req *http.Request) {
	event := Param(req.Context(), "event")
	a.logLimiter.UpdateUnLimitList(nil, []string{event})
	respond(writer, a.logLimiter.GetConfig())
}
