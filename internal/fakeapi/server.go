package fakeapi

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthClient/jwt"
)

// Config tunes the fake backend.
type Config struct {
	// AccessTTL is the lifetime of issued access tokens. Default 15m.
	AccessTTL time.Duration
	// RotateRefresh returns a new refresh token on every refresh and
	// invalidates the old one.
	RotateRefresh bool
	// LockoutThreshold locks an email after that many failed logins.
	// Zero disables lockout.
	LockoutThreshold int
	LockoutWindow    time.Duration
	// RefreshDelay stalls the refresh handler, widening the window in which
	// concurrent 401s pile up.
	RefreshDelay time.Duration
}

// User is the profile the fake serves.
type User struct {
	ID                int64  `json:"id"`
	Username          string `json:"username"`
	Email             string `json:"email"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Department        string `json:"department"`
	JobTitle          string `json:"jobTitle"`
	ProfilePictureURL string `json:"profilePictureUrl,omitempty"`
}

type account struct {
	user         User
	passwordHash string
}

// RecordedRequest is what the fake saw of one request.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

// Server is an http.Handler. The zero value is not usable; call New.
type Server struct {
	cfg     Config
	issuer  *jwt.Issuer
	lockout *lockout
	mux     *http.ServeMux

	mu       sync.Mutex
	accounts map[string]*account
	byID     map[int64]*account
	nextID   int64
	// access holds every access token still honoured, mapped to its user.
	access   map[string]int64
	sessions map[string]*refreshSession
	drops    map[string]int
	requests []RecordedRequest
	files    map[string]*upload
	reports  map[string]*report
	order    []string
	seq      int

	refreshStatus   atomic.Int32
	logoutStatus    atomic.Int32
	logins          atomic.Int64
	refreshes       atomic.Int64
	logouts         atomic.Int64
	refreshInFlight atomic.Int64
	maxInFlight     atomic.Int64
}

// New returns a fake with no users.
func New(cfg Config) (*Server, error) {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	issuer, err := jwt.NewIssuer(jwt.IssuerConfig{
		AccessTTL:     cfg.AccessTTL,
		SigningMethod: jwt.MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "advisor-fake",
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		issuer:   issuer,
		lockout:  newLockout(cfg.LockoutThreshold, cfg.LockoutWindow),
		mux:      http.NewServeMux(),
		accounts: make(map[string]*account),
		byID:     make(map[int64]*account),
		access:   make(map[string]int64),
		sessions: make(map[string]*refreshSession),
		drops:    make(map[string]int),
		files:    make(map[string]*upload),
		reports:  make(map[string]*report),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /auth/profile", s.authed(s.handleProfile))
	s.mux.HandleFunc("PUT /auth/profile", s.authed(s.handleUpdateProfile))

	s.mux.HandleFunc("POST /files/upload", s.authed(s.handleUpload))
	s.mux.HandleFunc("GET /dashboard/stats", s.authed(s.handleStats))
	s.mux.HandleFunc("GET /reports", s.authed(s.handleListReports))
	s.mux.HandleFunc("POST /reports/generate", s.authed(s.handleGenerateReport))
	s.mux.HandleFunc("GET /reports/{id}", s.authed(s.handleGetReport))
	s.mux.HandleFunc("GET /reports/{id}/download", s.authed(s.handleDownloadReport))
}

// AddUser registers an account. The ID is assigned when u.ID is zero.
func (s *Server) AddUser(u User, password string) (User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.nextID++
		u.ID = s.nextID
	} else if u.ID > s.nextID {
		s.nextID = u.ID
	}
	if u.Username == "" {
		u.Username, _, _ = strings.Cut(u.Email, "@")
	}
	a := &account{user: u, passwordHash: hash}
	s.accounts[strings.ToLower(u.Email)] = a
	s.byID[u.ID] = a
	return u, nil
}

// Login creates a session for email without a password check and returns
// its token pair.
func (s *Server) Login(email string) (access, refresh string, err error) {
	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return "", "", errors.New("unknown user")
	}
	return s.openSession(a.user.ID)
}

// IssueAccess mints an access token for userID with a custom lifetime and
// honours it. A negative ttl gives an already expired token.
func (s *Server) IssueAccess(userID int64, ttl time.Duration) (string, error) {
	token, err := s.issuer.IssueWithTTL(strconv.FormatInt(userID, 10), ttl)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.access[token] = userID
	s.mu.Unlock()
	return token, nil
}

// ExpireAccessTokens makes every issued access token answer 401 while
// leaving refresh tokens valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.access)
}

// RevokeSessions invalidates every refresh token.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sessions)
}

// SetRefreshStatus makes the refresh endpoint answer status. Zero restores
// normal behaviour.
func (s *Server) SetRefreshStatus(status int) {
	s.refreshStatus.Store(int32(status))
}

// SetLogoutStatus makes the logout endpoint answer status. Zero restores
// normal behaviour.
func (s *Server) SetLogoutStatus(status int) {
	s.logoutStatus.Store(int32(status))
}

// DropConnections closes the connection without a response for the next n
// requests to path.
func (s *Server) DropConnections(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[path] = n
}

func (s *Server) Logins() int64    { return s.logins.Load() }
func (s *Server) Refreshes() int64 { return s.refreshes.Load() }
func (s *Server) Logouts() int64   { return s.logouts.Load() }

// MaxConcurrentRefreshes is the highest number of refresh requests the fake
// was serving at once.
func (s *Server) MaxConcurrentRefreshes() int64 { return s.maxInFlight.Load() }

// Requests returns the requests seen so far, in arrival order.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// RequestsTo filters Requests by method and path.
func (s *Server) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// ActiveSessions is the number of refresh tokens still honoured.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get("X-Request-ID"),
	})
	drop := s.drops[r.URL.Path] > 0
	if drop {
		s.drops[r.URL.Path]--
	}
	s.mu.Unlock()

	if drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		panic(http.ErrAbortHandler)
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) openSession(userID int64) (string, string, error) {
	access, err := s.issuer.Issue(strconv.FormatInt(userID, 10))
	if err != nil {
		return "", "", err
	}
	sid, err := newSessionID()
	if err != nil {
		return "", "", err
	}
	secret, err := newRefreshSecret()
	if err != nil {
		return "", "", err
	}
	refresh, err := encodeRefreshToken(sid, secret)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	s.access[access] = userID
	s.sessions[sid] = &refreshSession{userID: userID, hash: hashRefreshSecret(secret)}
	s.mu.Unlock()
	return access, refresh, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenBody struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if s.lockout.locked(email) {
		writeError(w, http.StatusLocked, "Account locked due to too many failed attempts")
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[email]
	s.mu.Unlock()

	valid := false
	if ok {
		valid, _ = verifyPassword(in.Password, a.passwordHash)
	}
	if !valid {
		if s.lockout.recordFailure(email) {
			writeError(w, http.StatusLocked, "Account locked due to too many failed attempts")
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	s.lockout.reset(email)

	access, refresh, err := s.openSession(a.user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logins.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         a.user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n := s.refreshInFlight.Add(1)
	defer s.refreshInFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	s.refreshes.Add(1)

	if s.cfg.RefreshDelay > 0 {
		select {
		case <-time.After(s.cfg.RefreshDelay):
		case <-r.Context().Done():
			return
		}
	}
	if status := int(s.refreshStatus.Load()); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}

	var in tokenBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	sid, secret, err := decodeRefreshToken(in.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[sid]
	if !ok || sess.hash != hashRefreshSecret(secret) {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	userID := sess.userID
	s.mu.Unlock()

	access, err := s.issuer.Issue(strconv.FormatInt(userID, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := map[string]any{"accessToken": access}

	var rotated string
	var nextHash [32]byte
	if s.cfg.RotateRefresh {
		next, err := newRefreshSecret()
		if err == nil {
			rotated, err = encodeRefreshToken(sid, next)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		nextHash = hashRefreshSecret(next)
		out["refreshToken"] = rotated
	}

	s.mu.Lock()
	// The session may have been revoked while the token was minted.
	if _, ok := s.sessions[sid]; !ok {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if rotated != "" {
		s.sessions[sid].hash = nextHash
	}
	s.access[access] = userID
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logouts.Add(1)
	if status := int(s.logoutStatus.Load()); status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	var in tokenBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	if sid, _, err := decodeRefreshToken(in.RefreshToken); err == nil {
		s.mu.Lock()
		delete(s.sessions, sid)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, a *account)

// authed answers 401 unless the request carries an honoured access token.
func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if _, err := s.issuer.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		s.mu.Lock()
		userID, live := s.access[token]
		a := s.byID[userID]
		s.mu.Unlock()
		if !live || a == nil {
			writeError(w, http.StatusUnauthorized, "Token has expired")
			return
		}
		next(w, r, a)
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, _ *http.Request, a *account) {
	s.mu.Lock()
	u := a.user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, a *account) {
	var patch map[string]*string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid profile payload")
		return
	}

	s.mu.Lock()
	u := &a.user
	for field, v := range patch {
		if v == nil {
			continue
		}
		switch field {
		case "firstName":
			u.FirstName = *v
		case "lastName":
			u.LastName = *v
		case "email":
			u.Email = *v
		case "department":
			u.Department = *v
		case "jobTitle":
			u.JobTitle = *v
		case "profilePictureUrl":
			u.ProfilePictureURL = *v
		}
	}
	out := *u
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError uses the FastAPI error shape the real backend returns.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
