package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"stakeledger/core"
	"stakeledger/native/stake"
	"stakeledger/observability/metrics"
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
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeModulePaused   = -32021
)

// AuthMode selects how mutating methods authenticate callers.
type AuthMode string

const (
	// AuthModeToken compares a static bearer token in constant time.
	AuthModeToken AuthMode = "token"
	// AuthModeJWT validates HS256 JSON web tokens.
	AuthModeJWT AuthMode = "jwt"
)

// AuthConfig carries the credential material for the selected mode.
type AuthConfig struct {
	Mode      AuthMode
	Token     string
	JWTSecret []byte
	Issuer    string
	Audience  string
}

// Config tunes the server's auth and throttling behaviour.
type Config struct {
	Auth AuthConfig
	// RequestsPerMinute bounds mutating calls per source address. Zero
	// disables throttling.
	RequestsPerMinute float64
	Burst             int
}

type Server struct {
	node    *core.Node
	cfg     Config
	metrics *metrics.StakeMetrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewServer(node *core.Node, cfg Config) *Server {
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeToken
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Server{
		node:     node,
		cfg:      cfg,
		metrics:  metrics.Stake(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start serves the JSON-RPC endpoint on addr and blocks.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws/events" {
		s.handleEventsWS(w, r)
		return
	}
	s.handle(w, r)
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

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "stake_createRecord":
		s.handleMutation(w, r, req, s.handleCreateRecord)
	case "stake_stake":
		s.handleMutation(w, r, req, s.handleStake)
	case "stake_unstake":
		s.handleMutation(w, r, req, s.handleUnstake)
	case "stake_claimPoints":
		s.handleMutation(w, r, req, s.handleClaimPoints)
	case "stake_getPoints":
		s.handleGetPoints(w, r, req)
	case "stake_getRecord":
		s.handleGetRecord(w, r, req)
	case "stake_recentEvents":
		s.handleRecentEvents(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

// handleMutation front-loads the checks shared by every balance-affecting
// method: credentials first, then per-source throttling.
func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) {
	if authErr := s.requireAuth(r); authErr != nil {
		s.metrics.IncAuthFailure()
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.allowSource(r) {
		s.metrics.IncRateLimited()
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	next(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	credential := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if credential == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer credential"}
	}
	switch s.cfg.Auth.Mode {
	case AuthModeJWT:
		return s.validateJWT(credential)
	default:
		if s.cfg.Auth.Token == "" {
			return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
		}
		if subtle.ConstantTimeCompare([]byte(credential), []byte(s.cfg.Auth.Token)) != 1 {
			return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
		}
		return nil
	}
}

func (s *Server) validateJWT(credential string) *RPCError {
	if len(s.cfg.Auth.JWTSecret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "RPC JWT secret not configured"}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.cfg.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Auth.Issuer))
	}
	if s.cfg.Auth.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Auth.Audience))
	}
	_, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		return s.cfg.Auth.JWTSecret, nil
	}, opts...)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
	}
	return nil
}

func (s *Server) allowSource(r *http.Request) bool {
	if s.cfg.RequestsPerMinute <= 0 {
		return true
	}
	source, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		source = r.RemoteAddr
	}
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerMinute/60), s.cfg.Burst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

// stakeErrorResponse maps engine errors onto transport status and RPC codes.
func stakeErrorResponse(err error) (int, int, string) {
	switch {
	case errors.Is(err, stake.ErrUnauthorized):
		return http.StatusForbidden, codeUnauthorized, "caller is not the record owner"
	case errors.Is(err, stake.ErrPaused):
		return http.StatusServiceUnavailable, codeModulePaused, "staking module paused"
	case errors.Is(err, stake.ErrInvalidAmount),
		errors.Is(err, stake.ErrInsufficientStake),
		errors.Is(err, stake.ErrRecordExists),
		errors.Is(err, stake.ErrRecordNotFound),
		errors.Is(err, stake.ErrInvalidTimestamp):
		return http.StatusBadRequest, codeInvalidParams, err.Error()
	default:
		// Overflow, underflow and vault desync indicate an internal
		// inconsistency rather than a bad request.
		return http.StatusInternalServerError, codeServerError, err.Error()
	}
}
