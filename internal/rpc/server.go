// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-pos/config"
	klog "github.com/Klingon-tech/klingnet-pos/internal/log"
	"github.com/Klingon-tech/klingnet-pos/internal/metrics"
	"github.com/Klingon-tech/klingnet-pos/internal/miner"
	"github.com/Klingon-tech/klingnet-pos/internal/staking"
	"github.com/Klingon-tech/klingnet-pos/pkg/block"
	"github.com/Klingon-tech/klingnet-pos/pkg/types"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Chain is the header chain the server reports on.
type Chain interface {
	CurrentTip() *block.Header
	Height() uint64
	HeaderByHeight(height uint64) (*block.Header, error)
	TotalSupply() uint64
	BalanceOf(addr types.Address) uint64
}

// Producer is the local block producer.
type Producer interface {
	Running() bool
	Stats() miner.Stats
}

// Wallet lists the addresses this node stakes with.
type Wallet interface {
	Addresses() []types.Address
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr    string
	engine  *staking.Engine
	chain   Chain
	genesis *config.Genesis

	mu       sync.RWMutex
	producer Producer // nil when the node does not stake
	wallet   Wallet   // nil when the node does not stake

	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
}

// New creates a new RPC server. The rpcCfg parameter controls IP filtering
// and CORS. A zero-value RPCConfig allows all IPs and disables CORS.
func New(addr string, engine *staking.Engine, ch Chain, genesis *config.Genesis, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:    addr,
		engine:  engine,
		chain:   ch,
		genesis: genesis,
		logger:  klog.RPC,
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// SetProducer sets the local block producer reported by staking_getInfo.
func (s *Server) SetProducer(p Producer) {
	s.mu.Lock()
	s.producer = p
	s.mu.Unlock()
}

// SetWallet sets the staking wallet reported by staking_getInfo.
func (s *Server) SetWallet(w Wallet) {
	s.mu.Lock()
	s.wallet = w
	s.mu.Unlock()
}

// Handler returns the HTTP handler serving JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	// IP filtering.
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	// CORS headers.
	s.setCORSHeaders(w, r)

	// Handle CORS preflight.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(&req)
	method := req.Method
	if rpcErr != nil && rpcErr.Code == CodeMethodNotFound {
		method = "unknown"
	}
	metrics.RPCRequests().AddWithLabel(1, map[string]string{"method": method})
	if rpcErr != nil {
		s.logger.Debug().
			Str("method", req.Method).
			Int("code", rpcErr.Code).
			Str("error", rpcErr.Message).
			Msg("RPC request failed")
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "chain_getInfo":
		return s.handleChainGetInfo(req)
	case "chain_getHeader":
		return s.handleChainGetHeader(req)
	case "chain_getBalance":
		return s.handleChainGetBalance(req)
	case "staking_getInfo":
		return s.handleStakingGetInfo(req)
	case "staking_listValidators":
		return s.handleStakingListValidators(req)
	case "staking_getBanStatus":
		return s.handleStakingGetBanStatus(req)
	case "staking_enable":
		return s.handleStakingEnable(req)
	case "staking_disable":
		return s.handleStakingDisable(req)
	case "staking_addStake":
		return s.handleStakingAddStake(req)
	case "staking_updateStake":
		return s.handleStakingUpdateStake(req)
	case "staking_removeStake":
		return s.handleStakingRemoveStake(req)
	case "staking_delegate":
		return s.handleStakingDelegate(req)
	case "staking_revokeDelegation":
		return s.handleStakingRevokeDelegation(req)
	case "slashing_submitEvidence":
		return s.handleSlashingSubmitEvidence(req)
	case "slashing_listEvidence":
		return s.handleSlashingListEvidence(req)
	case "slashing_reportInactivity":
		return s.handleSlashingReportInactivity(req)
	case "gov_list":
		return s.handleGovList(req)
	case "gov_getVoteResult":
		return s.handleGovGetVoteResult(req)
	case "gov_create":
		return s.handleGovCreate(req)
	case "gov_vote":
		return s.handleGovVote(req)
	case "gov_execute":
		return s.handleGovExecute(req)
	case "gov_cancel":
		return s.handleGovCancel(req)
	case "boost_add":
		return s.handleBoostAdd(req)
	case "boost_remove":
		return s.handleBoostRemove(req)
	case "boost_list":
		return s.handleBoostList(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// parseOptionalParams is parseParams for endpoints whose params may be
// omitted entirely.
func parseOptionalParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return nil
	}
	return parseParams(req, target)
}
