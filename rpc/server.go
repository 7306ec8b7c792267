package rpc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intentchain/observability"
)

const maxRequestBytes = 1 << 20 // 1 MiB

// Server exposes the intent and settlement engines over JSON-RPC 2.0.
type Server struct {
	intents  IntentService
	settle   SettlementService
	log      *slog.Logger
	limiter  *visitorLimiter
	handlers map[string]handlerFunc
}

type handlerFunc func(params []json.RawMessage) (interface{}, *rpcError)

// Config bundles the server collaborators and admission settings.
type Config struct {
	Intents       IntentService
	Settlement    SettlementService
	Logger        *slog.Logger
	RatePerSecond float64
	RateBurst     int
}

// NewServer builds the RPC server around the two engine facades.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		intents: cfg.Intents,
		settle:  cfg.Settlement,
		log:     logger,
		limiter: newVisitorLimiter(cfg.RatePerSecond, cfg.RateBurst),
	}
	s.handlers = map[string]handlerFunc{
		"intents_submitIntent":   s.handleSubmitIntent,
		"intents_cancelIntent":   s.handleCancelIntent,
		"intents_getIntent":      s.handleGetIntent,
		"intents_listIntents":    s.handleListIntents,
		"settle_submitSolution":  s.handleSubmitSolution,
		"settle_windowStatus":    s.handleWindowStatus,
	}
	return s
}

// Router assembles the HTTP surface: the RPC endpoint, health and metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handleRPC)
	return r
}

// Serve runs the HTTP server until it fails.
func (s *Server) Serve(addr string) error {
	s.log.Info("rpc server listening", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(clientID(r)) {
		observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request", nil)
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "malformed JSON-RPC request", nil)
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid JSON-RPC envelope", nil)
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method", req.Method)
		return
	}

	start := time.Now()
	result, rpcErr := handler(req.Params)
	status := http.StatusOK
	if rpcErr != nil {
		status = http.StatusBadRequest
	}
	observability.ModuleMetrics().Observe("rpc", req.Method, status, time.Since(start))

	if rpcErr != nil {
		s.log.Warn("rpc request failed", "method", req.Method, "error", rpcErr.Message)
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &rpcError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}
