// Package mockcloud serves a fake mesh-router cloud API. It backs the
// package tests and the `meshkeeper mock` command.
package mockcloud

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/helloworlde/meshkeeper/internal/logger"
)

const apiPrefix = "/2.2"

// DefaultVerifyCode is accepted by /login/verify unless changed.
const DefaultVerifyCode = "123456"

type tokenState int

const (
	tokenUnverified tokenState = iota
	tokenActive
	tokenExpired
)

// Mutation records one state-changing request.
type Mutation struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

type failure struct {
	code    int
	message string
}

// Server is the fake cloud. It is safe for concurrent use.
type Server struct {
	mu         sync.Mutex
	fixture    *Fixture
	tokens     map[string]tokenState
	verifyCode string
	failures   map[string]failure
	calls      map[string]int
	mutations  []Mutation
	log        logger.Logger
	mux        *http.ServeMux
}

// New creates a server around fixture, or DefaultFixture when nil.
func New(fixture *Fixture, log logger.Logger) *Server {
	if fixture == nil {
		fixture = DefaultFixture()
	}
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		fixture:    fixture,
		tokens:     map[string]tokenState{},
		verifyCode: DefaultVerifyCode,
		failures:   map[string]failure{},
		calls:      map[string]int{},
		log:        log.With("component", "mockcloud"),
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST "+apiPrefix+"/login", s.handleLogin)
	s.mux.HandleFunc("POST "+apiPrefix+"/login/verify", s.handleVerify)
	s.mux.HandleFunc("POST "+apiPrefix+"/login/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST "+apiPrefix+"/logout", s.authed(s.handleLogout))

	s.mux.HandleFunc("GET "+apiPrefix+"/account", s.authed(s.handleAccount))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}", s.authed(s.handleNetwork))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}/devices", s.authed(s.handleClients))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}/devices/{cid}", s.authed(s.handleClient))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}/eeros", s.authed(s.handleNodes))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}/profiles", s.authed(s.handleProfiles))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}/profiles/{pid}", s.authed(s.handleProfile))
	s.mux.HandleFunc("GET "+apiPrefix+"/eeros/{eid}", s.authed(s.handleNode))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}/data_usage", s.authed(s.handleUsage))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}/data_usage/{scope}", s.authed(s.handleUsage))
	s.mux.HandleFunc("GET "+apiPrefix+"/networks/{id}/{resource}", s.authed(s.handleResource))

	s.mux.HandleFunc("PUT "+apiPrefix+"/networks/{id}", s.authed(s.handleSetFeatures))
	s.mux.HandleFunc("PUT "+apiPrefix+"/networks/{id}/dns_policies/network", s.authed(s.handleSetFeatures))
	s.mux.HandleFunc("PUT "+apiPrefix+"/networks/{id}/guestnetwork", s.authed(s.handleSetGuest))
	s.mux.HandleFunc("PUT "+apiPrefix+"/networks/{id}/devices/{cid}", s.authed(s.handlePauseClient))
	s.mux.HandleFunc("PUT "+apiPrefix+"/networks/{id}/profiles/{pid}", s.authed(s.handlePauseProfile))
	s.mux.HandleFunc("PUT "+apiPrefix+"/networks/{id}/profiles/{pid}/dns_policies/applications", s.authed(s.handleBlockApps))
	s.mux.HandleFunc("POST "+apiPrefix+"/networks/{id}/reboot", s.authed(s.handleRebootNetwork))
	s.mux.HandleFunc("POST "+apiPrefix+"/networks/{id}/speedtest", s.authed(s.handleSpeedTest))
	s.mux.HandleFunc("POST "+apiPrefix+"/eeros/{eid}/reboot", s.authed(s.handleRebootNode))
}

// ServeHTTP counts the request, applies injected failures and dispatches.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	if r.URL.RawQuery != "" {
		s.calls[r.URL.RequestURI()]++
	}
	f, failed := s.failures[r.URL.Path]
	if !failed {
		f, failed = s.failures["*"]
	}
	s.mu.Unlock()

	s.log.Debugf("%s %s", r.Method, r.URL.RequestURI())
	if failed {
		writeError(w, f.code, f.message)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// BaseURL returns the API base for a server listening at origin.
func BaseURL(origin string) string {
	return strings.TrimRight(origin, "/") + apiPrefix
}

// IssueToken creates an already verified session token.
func (s *Server) IssueToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := newToken()
	s.tokens[tok] = tokenActive
	return tok
}

// ExpireSessions makes every active token answer 401 until refreshed.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, st := range s.tokens {
		if st == tokenActive {
			s.tokens[tok] = tokenExpired
		}
	}
}

// RevokeSessions forgets every token so refreshes fail too.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = map[string]tokenState{}
}

func (s *Server) SetVerifyCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCode = code
}

// Fail makes every request to path answer with code and message. Path "*"
// matches every request.
func (s *Server) Fail(path string, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = failure{code: code, message: message}
}

func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]failure{}
}

// Calls returns how many requests hit a path, or a path with its query.
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *Server) Mutations() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mutation(nil), s.mutations...)
}

// Update runs fn with exclusive access to the fixture.
func (s *Server) Update(fn func(*Fixture)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.fixture)
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"meta": map[string]interface{}{
			"code":        status,
			"server_time": time.Now().UTC().Format(time.RFC3339),
		},
		"data": data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"meta": map[string]interface{}{
			"code":  status,
			"error": message,
		},
	})
}

func readBody(r *http.Request) map[string]interface{} {
	body := map[string]interface{}{}
	if r.Body == nil {
		return body
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie("s")
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := sessionToken(r)
		s.mu.Lock()
		st, ok := s.tokens[tok]
		s.mu.Unlock()
		if !ok || st != tokenActive {
			writeError(w, http.StatusUnauthorized, "error.session.invalid")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	if login, _ := body["login"].(string); strings.TrimSpace(login) == "" {
		writeError(w, http.StatusBadRequest, "error.login.missing")
		return
	}
	s.mu.Lock()
	tok := newToken()
	s.tokens[tok] = tokenUnverified
	s.mu.Unlock()
	writeData(w, http.StatusOK, map[string]interface{}{"user_token": tok})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	tok := sessionToken(r)
	body := readBody(r)
	code, _ := body["code"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tokens[tok]
	if !ok || st == tokenExpired {
		writeError(w, http.StatusUnauthorized, "error.session.invalid")
		return
	}
	if code != s.verifyCode {
		writeError(w, http.StatusBadRequest, "error.verification.invalid")
		return
	}
	s.tokens[tok] = tokenActive
	writeData(w, http.StatusOK, map[string]interface{}{"name": s.fixture.AccountName})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tok := sessionToken(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tokens[tok]
	if !ok || st == tokenUnverified {
		writeError(w, http.StatusUnauthorized, "error.session.refresh")
		return
	}
	delete(s.tokens, tok)
	fresh := newToken()
	s.tokens[fresh] = tokenActive
	writeData(w, http.StatusOK, map[string]interface{}{"user_token": fresh})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.tokens, sessionToken(r))
	s.mu.Unlock()
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeData(w, http.StatusOK, s.fixture.renderAccount())
}

// withNetwork resolves {id} under the lock and 404s unknown networks.
func (s *Server) withNetwork(w http.ResponseWriter, r *http.Request, fn func(n *Network)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.fixture.network(r.PathValue("id"))
	if n == nil {
		writeError(w, http.StatusNotFound, "error.network.not_found")
		return
	}
	fn(n)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	s.withNetwork(w, r, func(n *Network) {
		writeData(w, http.StatusOK, n.renderBody())
	})
}

// handleClients omits live usage from the plain list; the usage and thread
// variants include it.
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	withUsage := q.Get("include") == "usage" || q.Get("thread") == "true"
	s.withNetwork(w, r, func(n *Network) {
		rows := make([]interface{}, 0, len(n.Clients))
		for _, c := range n.Clients {
			rows = append(rows, n.renderClient(c, withUsage))
		}
		writeData(w, http.StatusOK, rows)
	})
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	s.withNetwork(w, r, func(n *Network) {
		c := n.client(r.PathValue("cid"))
		if c == nil {
			writeError(w, http.StatusNotFound, "error.device.not_found")
			return
		}
		writeData(w, http.StatusOK, n.renderClient(c, true))
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.withNetwork(w, r, func(n *Network) {
		rows := make([]interface{}, 0, len(n.Nodes))
		for _, d := range n.Nodes {
			rows = append(rows, n.renderNode(d))
		}
		writeData(w, http.StatusOK, rows)
	})
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.fixture.Networks {
		if d := n.node(r.PathValue("eid")); d != nil {
			writeData(w, http.StatusOK, n.renderNode(d))
			return
		}
	}
	writeError(w, http.StatusNotFound, "error.eero.not_found")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.withNetwork(w, r, func(n *Network) {
		p := n.profile(r.PathValue("pid"))
		if p == nil {
			writeError(w, http.StatusNotFound, "error.profile.not_found")
			return
		}
		writeData(w, http.StatusOK, n.renderProfile(p))
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	s.withNetwork(w, r, func(n *Network) {
		rows := make([]interface{}, 0, len(n.Profiles))
		for _, p := range n.Profiles {
			rows = append(rows, n.renderProfile(p))
		}
		writeData(w, http.StatusOK, rows)
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	if scope == "" {
		scope = "network"
	}
	period := r.URL.Query().Get("period")
	s.withNetwork(w, r, func(n *Network) {
		writeData(w, http.StatusOK, n.renderUsage(scope, period))
	})
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	s.withNetwork(w, r, func(n *Network) {
		switch resource {
		case "reservations":
			writeData(w, http.StatusOK, []interface{}{
				map[string]interface{}{"ip": "192.168.4.50", "mac": "aa:bb:cc:dd:ee:03", "description": "printer"},
			})
		case "forwards":
			writeData(w, http.StatusOK, []interface{}{})
		case "routing":
			writeData(w, http.StatusOK, map[string]interface{}{
				"gateway_ip": "192.168.4.1",
				"dhcp":       map[string]interface{}{"start_ip": "192.168.4.2", "end_ip": "192.168.7.254"},
				"mode":       "automatic",
			})
		case "diagnostics":
			writeData(w, http.StatusOK, map[string]interface{}{"status": "ok", "date": "2026-05-01T07:00:00Z"})
		case "updates":
			var current string
			for _, d := range n.Nodes {
				if d.Gateway {
					current = d.OSVersion
				}
			}
			writeData(w, http.StatusOK, map[string]interface{}{
				"current_firmware": current,
				"target_firmware":  n.TargetFirmware,
			})
		case "support":
			writeData(w, http.StatusOK, map[string]interface{}{"support_phone": "+1 555 0100", "contact_url": "https://support.example.com"})
		case "speedtest":
			writeData(w, http.StatusOK, []interface{}{
				map[string]interface{}{"down_mbps": 512.4, "up_mbps": 48.9, "date": "2026-05-01T06:00:00Z"},
			})
		case "channel_utilization":
			writeData(w, http.StatusOK, map[string]interface{}{"utilization": []interface{}{
				map[string]interface{}{"band": "2.4GHz", "channel": 6, "utilization": 41.5},
				map[string]interface{}{"band": "5GHz", "channel": 149, "utilization": 12.0},
			}})
		case "thread":
			writeData(w, http.StatusOK, map[string]interface{}{"enabled": n.Features["thread"]})
		case "guestnetwork":
			writeData(w, http.StatusOK, map[string]interface{}{"enabled": n.GuestEnabled, "name": n.GuestName})
		default:
			writeError(w, http.StatusNotFound, "error.resource.not_found")
		}
	})
}

func (s *Server) record(r *http.Request, body map[string]interface{}) {
	s.mutations = append(s.mutations, Mutation{Method: r.Method, Path: r.URL.Path, Body: body})
}

func (s *Server) handleSetFeatures(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	s.withNetwork(w, r, func(n *Network) {
		s.record(r, body)
		for k, v := range body {
			if b, ok := v.(bool); ok {
				n.Features[k] = b
			}
		}
		writeData(w, http.StatusOK, n.renderBody())
	})
}

func (s *Server) handleSetGuest(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	s.withNetwork(w, r, func(n *Network) {
		s.record(r, body)
		if b, ok := body["enabled"].(bool); ok {
			n.GuestEnabled = b
		}
		if name, ok := body["name"].(string); ok && name != "" {
			n.GuestName = name
		}
		writeData(w, http.StatusOK, map[string]interface{}{"enabled": n.GuestEnabled, "name": n.GuestName})
	})
}

func (s *Server) handlePauseClient(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	s.withNetwork(w, r, func(n *Network) {
		c := n.client(r.PathValue("cid"))
		if c == nil {
			writeError(w, http.StatusNotFound, "error.device.not_found")
			return
		}
		s.record(r, body)
		if b, ok := body["paused"].(bool); ok {
			c.Paused = b
		}
		writeData(w, http.StatusOK, n.renderClient(c, true))
	})
}

func (s *Server) handlePauseProfile(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	s.withNetwork(w, r, func(n *Network) {
		p := n.profile(r.PathValue("pid"))
		if p == nil {
			writeError(w, http.StatusNotFound, "error.profile.not_found")
			return
		}
		s.record(r, body)
		if b, ok := body["paused"].(bool); ok {
			p.Paused = b
		}
		writeData(w, http.StatusOK, n.renderProfile(p))
	})
}

func (s *Server) handleBlockApps(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	s.withNetwork(w, r, func(n *Network) {
		p := n.profile(r.PathValue("pid"))
		if p == nil {
			writeError(w, http.StatusNotFound, "error.profile.not_found")
			return
		}
		s.record(r, body)
		if list, ok := body["blocked_applications"].([]interface{}); ok {
			p.Blocked = p.Blocked[:0]
			for _, v := range list {
				if id, ok := v.(string); ok {
					p.Blocked = append(p.Blocked, id)
				}
			}
		}
		writeData(w, http.StatusOK, n.renderProfile(p))
	})
}

func (s *Server) handleRebootNetwork(w http.ResponseWriter, r *http.Request) {
	s.withNetwork(w, r, func(n *Network) {
		s.record(r, nil)
		n.Reboots++
		writeData(w, http.StatusAccepted, nil)
	})
}

func (s *Server) handleSpeedTest(w http.ResponseWriter, r *http.Request) {
	s.withNetwork(w, r, func(n *Network) {
		s.record(r, nil)
		n.SpeedTests++
		writeData(w, http.StatusAccepted, nil)
	})
}

func (s *Server) handleRebootNode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.fixture.Networks {
		if d := n.node(r.PathValue("eid")); d != nil {
			s.record(r, nil)
			d.Reboots++
			writeData(w, http.StatusAccepted, nil)
			return
		}
	}
	writeError(w, http.StatusNotFound, "error.eero.not_found")
}

// ListenAndServe runs the fake cloud until the server is closed.
func (s *Server) ListenAndServe(addr string) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Infof("fake cloud listening on %s%s", addr, apiPrefix)
		errc <- srv.ListenAndServe()
	}()
	return srv, errc
}
