// Package adminapi exposes the running daemon's control surface as a
// small JSON HTTP API, so the cli package's administrative subcommands
// (status, info, connect, disconnect, routes, peers, register-service,
// join, network-status) can act on a node that is already running in
// the foreground. POST /stop is served too, but the cli's stop
// subcommand signals the process through its pid file instead.
package adminapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vx0net/overlayd/internal/bootstrap"
	"github.com/vx0net/overlayd/internal/daemon"
	"github.com/vx0net/overlayd/internal/node"
	"github.com/vx0net/overlayd/internal/resolver"
)

func errBadIP(s string) error {
	return fmt.Errorf("invalid IP address %q", s)
}

func newServiceID() uuid.UUID {
	return uuid.New()
}

// DefaultPort is the admin API's default listen port.
const DefaultPort = 7070

// Server wires the admin HTTP API to one running node.
type Server struct {
	Node     *node.Node
	Daemon   *daemon.Daemon
	Joiner   *bootstrap.Joiner
	Resolver *resolver.Resolver
}

// Handler builds the admin API's http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /routes", s.handleRoutes)
	mux.HandleFunc("GET /peers", s.handlePeers)
	mux.HandleFunc("GET /network-status", s.handleNetworkStatus)
	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /services", s.handleRegisterService)
	mux.HandleFunc("POST /join", s.handleJoin)
	mux.HandleFunc("POST /stop", s.handleStop)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": err.Error()})
}

type infoResponse struct {
	NodeID   string `json:"node_id"`
	Hostname string `json:"hostname"`
	ASN      uint32 `json:"asn"`
	Tier     string `json:"tier"`
	Started  bool   `json:"started"`
	Peers    int    `json:"peer_count"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, infoResponse{
		NodeID:   s.Node.ID.String(),
		Hostname: s.Node.Hostname,
		ASN:      s.Node.ASN,
		Tier:     s.Node.Tier.String(),
		Started:  s.Node.IsStarted(),
		Peers:    s.Node.PeerCount(),
	})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	sessions := s.Daemon.Sessions()
	out := make(map[string]string, len(sessions))
	for ip, state := range sessions {
		out[ip] = state.String()
	}
	writeJSON(w, out)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Node.Peers())
}

type networkStatusResponse struct {
	Started     bool `json:"started"`
	PeerCount   int  `json:"peer_count"`
	ServiceCount int `json:"service_count"`
}

func (s *Server) handleNetworkStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, networkStatusResponse{
		Started:      s.Node.IsStarted(),
		PeerCount:    s.Node.PeerCount(),
		ServiceCount: len(s.Node.Services()),
	})
}

type connectRequest struct {
	IP   string `json:"ip"`
	ASN  uint32 `json:"asn"`
	Port int    `json:"port"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ip := net.ParseIP(req.IP)
	if ip == nil {
		writeError(w, http.StatusBadRequest, errBadIP(req.IP))
		return
	}
	if err := s.Daemon.Connect(r.Context(), ip, req.ASN, req.Port); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, map[string]string{"status": "established"})
}

type disconnectRequest struct {
	IP string `json:"ip"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if sess, ok := s.Daemon.Session(req.IP); ok {
		for _, p := range s.Node.Peers() {
			if p.PeerAddr.String() == req.IP {
				s.Node.RemovePeer(p.PeerID)
			}
		}
		_ = sess
	}
	writeJSON(w, map[string]string{"status": "disconnected"})
}

type registerServiceRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Port   uint16 `json:"port"`
}

func (s *Server) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var req registerServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	svc := node.Service{
		ServiceID: newServiceID(),
		Name:      req.Name,
		Type:      node.ServiceCustom,
		Domain:    req.Domain,
		Port:      req.Port,
	}
	if err := s.Node.RegisterService(svc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if ip := s.Node.IPv4; ip != nil {
		_ = s.Resolver.Register(req.Domain, ip)
	}
	writeJSON(w, map[string]string{"status": "registered"})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	candidates, err := bootstrap.DiscoverEntryPoints(r.Context(), s.Resolver)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := s.Joiner.Join(r.Context(), candidates); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, map[string]string{"status": "joined"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.Daemon.Shutdown()
	s.Node.Stop()
	writeJSON(w, map[string]string{"status": "stopped"})
}

// Client is a thin HTTP client for the cli package's subcommands.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client targeting the admin API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// Get issues a GET request against path and decodes the JSON response
// body onto out.
func (c *Client) Get(path string, out any) error {
	resp, err := c.HTTP.Get(c.BaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Post issues a POST request against path with body marshaled as JSON,
// decoding the JSON response onto out (if non-nil).
func (c *Client) Post(path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Post(c.BaseURL+path, "application/json", bytesReader(buf))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("admin api request failed: %s", resp.Status)
	}
	return fmt.Errorf("admin api request failed: %s", apiErr.Error)
}
