package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"cdpcore/core/events"
	"cdpcore/native/cdp"
	"cdpcore/observability"
	"cdpcore/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
	codeUnhealthy      = -32030
	codeStaleOracle    = -32031
	codeInsufficient   = -32032
)

// Server exposes the engine over JSON-RPC 2.0. Mutating methods require
// authentication and are rate limited per client source.
type Server struct {
	engine   *cdp.Engine
	recorder *events.Recorder
	logger   *slog.Logger
	auth     *authenticator
	metrics  *observability.RPCMetrics

	limit      rate.Limit
	burst      int
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	httpServer *http.Server
}

// Options configures the RPC server.
type Options struct {
	BearerToken string
	JWTSecret   []byte
	// RequestsPerSecond and Burst bound mutating traffic per source.
	RequestsPerSecond float64
	Burst             int
}

// NewServer wires the RPC surface to the engine. recorder may be nil
// when event queries are not exposed.
func NewServer(engine *cdp.Engine, recorder *events.Recorder, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	return &Server{
		engine:   engine,
		recorder: recorder,
		logger:   logger.With("component", "rpc"),
		auth:     newAuthenticator(opts.BearerToken, opts.JWTSecret),
		metrics:  observability.RPC(),
		limit:    rate.Limit(opts.RequestsPerSecond),
		burst:    opts.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Router assembles the HTTP surface: JSON-RPC at the root plus health
// and metrics endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	method := ""
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		s.metrics.Observe(method, recorder.status, time.Since(started))
	}()

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	recorder.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		httpStatus := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			httpStatus = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(recorder, httpStatus, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(recorder, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(recorder, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method = req.Method

	if mutatingMethods[req.Method] {
		if authErr := s.auth.authenticate(r); authErr != nil {
			s.logger.Warn("authentication rejected",
				"method", req.Method,
				"reason", authErr.Message,
				logging.MaskField("authorization", r.Header.Get("Authorization")))
			writeError(recorder, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowSource(clientSource(r)) {
			s.metrics.RecordThrottle("rate_limit")
			writeError(recorder, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}

	switch req.Method {
	case "cdp_depositCollateral":
		s.handleDepositCollateral(recorder, r, req)
	case "cdp_mintSynth":
		s.handleMintSynth(recorder, r, req)
	case "cdp_depositCollateralAndMintSynth":
		s.handleDepositCollateralAndMintSynth(recorder, r, req)
	case "cdp_burnSynth":
		s.handleBurnSynth(recorder, r, req)
	case "cdp_redeemCollateral":
		s.handleRedeemCollateral(recorder, r, req)
	case "cdp_redeemCollateralForSynth":
		s.handleRedeemCollateralForSynth(recorder, r, req)
	case "cdp_liquidate":
		s.handleLiquidate(recorder, r, req)
	case "cdp_getAccountInformation":
		s.handleGetAccountInformation(recorder, r, req)
	case "cdp_getHealthFactor":
		s.handleGetHealthFactor(recorder, r, req)
	case "cdp_getCollateralBalance":
		s.handleGetCollateralBalance(recorder, r, req)
	case "cdp_getCollateralTokens":
		s.handleGetCollateralTokens(recorder, r, req)
	case "cdp_getParams":
		s.handleGetParams(recorder, r, req)
	case "cdp_getEvents":
		s.handleGetEvents(recorder, r, req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

var mutatingMethods = map[string]bool{
	"cdp_depositCollateral":             true,
	"cdp_mintSynth":                     true,
	"cdp_depositCollateralAndMintSynth": true,
	"cdp_burnSynth":                     true,
	"cdp_redeemCollateral":              true,
	"cdp_redeemCollateralForSynth":      true,
	"cdp_liquidate":                     true,
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type feedHealth struct {
		Symbol     string `json:"symbol"`
		AgeSeconds int64  `json:"ageSeconds"`
		Stale      bool   `json:"stale"`
		Error      string `json:"error,omitempty"`
	}
	resp := struct {
		Status string       `json:"status"`
		Feeds  []feedHealth `json:"feeds"`
	}{Status: "ok"}

	for _, asset := range s.engine.CollateralAssets() {
		health := feedHealth{Symbol: asset.Symbol}
		age, err := asset.Feed.Age(r.Context())
		if err != nil {
			health.Error = err.Error()
			resp.Status = "degraded"
		} else {
			health.AgeSeconds = int64(age.Seconds())
			health.Stale = age >= asset.Feed.Timeout()
			if health.Stale {
				resp.Status = "degraded"
			}
			observability.Oracle().RecordFeedAge(asset.Symbol, age)
		}
		resp.Feeds = append(resp.Feeds, health)
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
