package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"lendledger/core/events"
	"lendledger/ledger"
	"lendledger/observability/metrics"
	"lendledger/oracle"
	"lendledger/vault"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	envRPCToken    = "LENDLEDGER_RPC_TOKEN"
	envAdminSecret = "LENDLEDGER_ADMIN_SECRET"
	adminSubject   = "admin"

	correlationHeader = "X-Correlation-Id"

	defaultRequestsPerMinute = 600
	defaultBurst             = 30
	limiterTTL               = 5 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Config carries the collaborators the RPC surface dispatches to. Engine and
// Broker are required for a useful server; the rest degrade into explicit
// "not configured" errors on the methods that need them.
type Config struct {
	Engine *ledger.Engine
	Vault  *vault.Vault
	Quoter ledger.PriceOracle
	Pools  *oracle.MemoryPools
	Broker *events.Broker
	Logger *slog.Logger

	// RequestsPerMinute bounds each source's JSON-RPC call rate. Zero
	// selects the default; a negative value disables limiting.
	RequestsPerMinute float64
	Burst             int
}

// Server exposes the ledger over JSON-RPC 2.0 plus the health, metrics, and
// event-stream endpoints.
type Server struct {
	engine *ledger.Engine
	vault  *vault.Vault
	quoter ledger.PriceOracle
	pools  *oracle.MemoryPools
	broker *events.Broker
	logger *slog.Logger

	authToken   string
	adminSecret []byte

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	perSecond   rate.Limit
	burst       int
	rateEnabled bool
}

// NewServer builds the RPC server. Credentials come from the environment:
// LENDLEDGER_RPC_TOKEN guards the user mutations and LENDLEDGER_ADMIN_SECRET
// signs the HS256 admin tokens.
func NewServer(cfg Config) *Server {
	s := &Server{
		engine:      cfg.Engine,
		vault:       cfg.Vault,
		quoter:      cfg.Quoter,
		pools:       cfg.Pools,
		broker:      cfg.Broker,
		logger:      cfg.Logger,
		authToken:   strings.TrimSpace(os.Getenv(envRPCToken)),
		adminSecret: []byte(strings.TrimSpace(os.Getenv(envAdminSecret))),
		limiters:    make(map[string]*rate.Limiter),
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute == 0 {
		perMinute = defaultRequestsPerMinute
	}
	if perMinute > 0 {
		s.rateEnabled = true
		s.perSecond = rate.Limit(perMinute / 60.0)
		s.burst = cfg.Burst
		if s.burst <= 0 {
			s.burst = defaultBurst
		}
	}
	return s
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Router assembles the HTTP surface: POST / for JSON-RPC, GET /healthz,
// GET /metrics, and GET /ws/events.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.withCorrelation)
	r.Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "lendledger.rpc"))
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withCorrelation tags every request with a generated id and logs one line
// per request once the response is written.
func (s *Server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlation := uuid.NewString()
		w.Header().Set(correlationHeader, correlation)
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		s.log().Info("http request",
			"correlation", correlation,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"durationMs", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
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

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := ""
	defer func() {
		metrics.RPC().Observe(method, recorder.status, time.Since(start))
	}()

	reader := http.MaxBytesReader(recorder, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	recorder.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(recorder, status, nil, codeInvalidRequest, message, err.Error())
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

	if !s.allowSource(clientSource(r)) {
		metrics.RPC().RecordThrottle("rate_limit")
		writeError(recorder, http.StatusTooManyRequests, req.ID, codeRateLimited, "request rate exceeded", nil)
		return
	}

	s.dispatch(recorder, r, req)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "lending_deposit":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleLendingDeposit(w, req)
	case "lending_withdraw":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleLendingWithdraw(w, req)
	case "lending_borrow":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleLendingBorrow(w, req)
	case "lending_repay":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleLendingRepay(w, req)
	case "lending_liquidate":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleLendingLiquidate(w, req)
	case "lending_getPool":
		s.handleLendingGetPool(w, req)
	case "lending_getAccount":
		s.handleLendingGetAccount(w, req)
	case "lending_getRisk":
		s.handleLendingGetRisk(w, req)
	case "lending_listAssets":
		s.handleLendingListAssets(w, req)
	case "lending_getRates":
		s.handleLendingGetRates(w, req)
	case "oracle_quote":
		s.handleOracleQuote(w, req)
	case "lending_registerAsset":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleRegisterAsset(w, req)
	case "lending_setAssetActive":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetAssetActive(w, req)
	case "lending_setFees":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetFees(w, req)
	case "lending_setPauses":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetPauses(w, req)
	case "lending_withdrawFees":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleWithdrawFees(w, req)
	case "lending_withdrawReserve":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleWithdrawReserve(w, req)
	case "oracle_setPair":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleOracleSetPair(w, req)
	case "oracle_setPool":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleOracleSetPool(w, req)
	case "vault_fund":
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleVaultFund(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	token, rpcErr := bearerToken(r)
	if rpcErr != nil {
		return rpcErr
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) requireAdmin(r *http.Request) *RPCError {
	if len(s.adminSecret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "admin authentication secret not configured"}
	}
	raw, rpcErr := bearerToken(r)
	if rpcErr != nil {
		return rpcErr
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.adminSecret, nil
	})
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid admin token", Data: err.Error()}
	}
	if !token.Valid {
		return &RPCError{Code: codeUnauthorized, Message: "invalid admin token"}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return &RPCError{Code: codeUnauthorized, Message: "unexpected admin claims"}
	}
	subject, err := claims.GetSubject()
	if err != nil || subject != adminSubject {
		return &RPCError{Code: codeUnauthorized, Message: "admin subject required"}
	}
	return nil
}

func bearerToken(r *http.Request) (string, *RPCError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	return token, nil
}

func (s *Server) allowSource(source string) bool {
	if !s.rateEnabled {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(s.perSecond, s.burst)
		s.limiters[source] = limiter
		go s.expireSource(source)
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func (s *Server) expireSource(source string) {
	timer := time.NewTimer(limiterTTL)
	defer timer.Stop()
	<-timer.C
	s.mu.Lock()
	delete(s.limiters, source)
	s.mu.Unlock()
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
