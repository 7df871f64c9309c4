package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-http-utils/etag"
	"github.com/sirupsen/logrus"

	"github.com/sardine-ai/go-uwsgi-config/render"
	"github.com/sardine-ai/go-uwsgi-config/source"
)

// MinRefreshInterval is the lowest refresh interval a Server accepts.
const MinRefreshInterval = 5 * time.Second

// RepositoryStatus is the refresh state of one repository.
type RepositoryStatus struct {
	Name         string    `json:"name"`
	LastRefresh  time.Time `json:"last_refresh"`
	LastError    string    `json:"last_error,omitempty"`
	RefreshCount int       `json:"refresh_count"`
	IsHealthy    bool      `json:"is_healthy"`
	loaded       bool
}

type Server struct {
	Repositories    []source.Repository
	RefreshInterval time.Duration
	AuthKey         string
	cancel          context.CancelFunc
	wg              sync.WaitGroup

	statusMu sync.RWMutex
	status   map[string]*RepositoryStatus

	httpMu     sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer refreshes every repository once and then keeps refreshing them in
// the background until Stop is called or ctx is canceled. A repository that
// fails its first refresh is reported as unhealthy but still served once a
// later refresh succeeds.
func NewServer(ctx context.Context, repositories []source.Repository, refreshInterval time.Duration) *Server {
	if refreshInterval < MinRefreshInterval {
		logrus.Warnf("refresh interval too low, setting it to %s", MinRefreshInterval)
		refreshInterval = MinRefreshInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	server := &Server{
		Repositories:    repositories,
		RefreshInterval: refreshInterval,
		cancel:          cancel,
		status:          make(map[string]*RepositoryStatus, len(repositories)),
	}
	for _, repo := range repositories {
		server.status[repo.GetName()] = &RepositoryStatus{Name: repo.GetName()}
		server.refreshRepository(repo)
	}
	for _, repo := range repositories {
		server.wg.Add(1)
		go func(repo source.Repository) {
			defer server.wg.Done()
			server.refresh(ctx, repo)
		}(repo)
	}
	return server
}

func (s *Server) refresh(ctx context.Context, repository source.Repository) {
	ticker := time.NewTicker(s.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.refreshRepository(repository)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) refreshRepository(repository source.Repository) {
	err := repository.Refresh()
	if err != nil {
		logrus.WithError(err).WithField("repository", repository.GetName()).Error("error refreshing repository")
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status[repository.GetName()]
	st.LastRefresh = time.Now()
	st.RefreshCount++
	if err != nil {
		st.LastError = err.Error()
		st.IsHealthy = false
		return
	}
	st.LastError = ""
	st.IsHealthy = true
	st.loaded = true
}

// Stop stops the background refreshes and waits for them to return.
func (s *Server) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Start serves the repositories on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	logrus.WithField("addr", addr).Info("Starting server")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpMu.Lock()
	if s.closed {
		s.httpMu.Unlock()
		return nil
	}
	s.httpServer = srv
	s.httpMu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the routes of CreateHandlers with ETag support, behind Auth
// when AuthKey is set.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = etag.Handler(s.CreateHandlers(), false)
	if s.AuthKey != "" {
		handler = Auth(handler, s.AuthKey)
	}
	return handler
}

// Shutdown stops the background refreshes and gracefully stops the HTTP
// server if Start was called.
func (s *Server) Shutdown() error {
	s.Stop()

	s.httpMu.Lock()
	srv := s.httpServer
	s.closed = true
	s.httpMu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// IsHealthy reports whether the last refresh of every repository succeeded.
func (s *Server) IsHealthy() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	for _, st := range s.status {
		if !st.IsHealthy {
			return false
		}
	}
	return true
}

// IsReady reports whether at least one repository has loaded data.
func (s *Server) IsReady() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	for _, st := range s.status {
		if st.loaded {
			return true
		}
	}
	return false
}

// GetRepositoryStatus returns a snapshot of every repository status.
func (s *Server) GetRepositoryStatus() map[string]RepositoryStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	out := make(map[string]RepositoryStatus, len(s.status))
	for name, st := range s.status {
		out[name] = *st
	}
	return out
}

// CreateHandlers returns the routes of the server:
//
//	/health                 200 when every repository is healthy, 503 otherwise
//	/ready                  200 once any repository has loaded, 503 otherwise
//	/status                 per repository refresh state, errors included
//	/{repo}                 the resolved document as ini
//	/{repo}/{group}         one resolved group, ?format=ini|json|yaml|env
func (s *Server) CreateHandlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", readOnly(s.handleHealth))
	mux.HandleFunc("/ready", readOnly(s.handleReady))
	mux.HandleFunc("/status", readOnly(s.handleStatus))
	for _, repo := range s.Repositories {
		repo := repo
		switch repo.GetName() {
		case "health", "ready", "status":
			logrus.WithField("repository", repo.GetName()).Warn("repository name shadowed by a status endpoint")
			continue
		}
		mux.HandleFunc("/"+repo.GetName(), readOnly(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", render.INI.ContentType())
			_, err := w.Write(repo.GetRawData())
			if err != nil {
				logrus.WithError(err).Error("error writing response")
			}
		}))
		mux.HandleFunc("/"+repo.GetName()+"/{group}", readOnly(func(w http.ResponseWriter, r *http.Request) {
			serveGroup(w, r, repo)
		}))
	}
	return mux
}

func serveGroup(w http.ResponseWriter, r *http.Request, repo source.Repository) {
	format, err := render.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	group, ok := repo.GetData(r.PathValue("group"))
	if !ok {
		http.Error(w, "group not found", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := render.Group(&buf, group, format); err != nil {
		logrus.WithError(err).WithField("repository", repo.GetName()).Error("error rendering group")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if _, err := w.Write(buf.Bytes()); err != nil {
		logrus.WithError(err).Error("error writing response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.IsHealthy() {
		var unhealthy []string
		for name, st := range s.GetRepositoryStatus() {
			if !st.IsHealthy {
				unhealthy = append(unhealthy, name)
			}
		}
		sort.Strings(unhealthy)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":       "unhealthy",
			"repositories": unhealthy,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy":      s.IsHealthy(),
		"ready":        s.IsReady(),
		"repositories": s.GetRepositoryStatus(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("error writing response")
	}
}

func readOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
