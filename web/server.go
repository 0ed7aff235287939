// Package web is the embedded remote-access server: a chi router serving the
// browser UI, a small REST surface, the state-broadcast WebSocket and the PTY
// WebSocket.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cmux-remote/agents"
	"cmux-remote/bridge"
	"cmux-remote/config"
	"cmux-remote/log"
	"cmux-remote/session"
	"cmux-remote/tmux"
	"cmux-remote/web/handlers"
	webmiddleware "cmux-remote/web/middleware"
	"cmux-remote/web/static"
	"cmux-remote/web/types"
)

const (
	bindAttempts   = 3
	bindRetryDelay = 500 * time.Millisecond
)

// Deps are the collaborators a server needs. Tests inject fakes here.
type Deps struct {
	Config      *config.Config
	Executor    *bridge.Executor
	Bridge      *bridge.Bridge
	Host        types.Host
	Manager     *session.Manager
	Coordinator *tmux.Coordinator
	Agents      *agents.Index
	Version     string
}

// Server is the embedded remote-access server. One per process.
type Server struct {
	deps        Deps
	router      chi.Router
	srv         *http.Server
	broadcaster *Broadcaster
	startTime   time.Time

	mu       sync.Mutex
	running  bool
	listener net.Listener
}

// NewServer builds the router and broadcaster. Nothing listens until Start.
func NewServer(deps Deps) *Server {
	server := &Server{
		deps:      deps,
		startTime: time.Now(),
	}
	server.broadcaster = NewBroadcaster(deps.Executor, deps.Host, deps.Manager, deps.Coordinator)

	router := chi.NewRouter()

	// Request logging stays off the console; the embedding app may own the
	// terminal. Handlers log to the file-only loggers instead.
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.StripSlashes)
	router.Use(webmiddleware.RateLimit(100, time.Minute))

	// Anyone on the overlay network may connect; auth is out of scope here.
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	view := &handlers.HostView{Executor: deps.Executor, Host: deps.Host}

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", handlers.StatusHandler(deps.Version, server.startTime, deps.Config.Port, view, server.broadcaster))
		r.Get("/workspaces", handlers.WorkspacesHandler(view))
		r.Get("/notifications", handlers.NotificationsHandler(view))
		r.Post("/command", handlers.CommandHandler(deps.Bridge))
		r.Post("/workspaces/new", handlers.NewWorkspaceHandler(deps.Bridge))
		r.Route("/workspaces/{id}", func(r chi.Router) {
			r.Post("/select", handlers.SelectWorkspaceHandler(deps.Bridge))
			r.Post("/tmux", handlers.SetTmuxHandler(deps.Bridge))
			r.Post("/split", handlers.SplitHandler(deps.Bridge))
			r.Get("/diff", handlers.DiffHandler(view))
		})
		r.Get("/tmux/sessions", handlers.TmuxSessionsHandler(deps.Coordinator))
		r.Delete("/tmux/sessions/{name}", handlers.KillTmuxSessionHandler(deps.Coordinator))
		r.Delete("/tmux/sessions", handlers.KillAllTmuxSessionsHandler(deps.Coordinator))
		r.Get("/cc/sessions", handlers.AgentSessionsHandler(deps.Agents))
		r.Post("/cc/resume", handlers.AgentResumeHandler(deps.Bridge, deps.Agents))
	})

	router.Get("/ws", handlers.StateWebSocketHandler(server.broadcaster, deps.Bridge))
	router.Get("/ws/terminal", handlers.TerminalWebSocketHandler(deps.Manager, deps.Coordinator))

	router.Get("/", static.Serve("index.html"))
	router.Get("/style.css", static.Serve("style.css"))
	router.Get("/app.js", static.Serve("app.js"))
	router.Get("/manifest.json", static.Serve("manifest.json"))
	router.Get("/sw.js", static.Serve("sw.js"))

	server.router = router
	server.srv = &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}
	return server
}

// Handler exposes the router for httptest-based tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Broadcaster exposes the state-client fan-out, e.g. for the host to forward
// notifications.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Running reports whether the listener is bound.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Port returns the bound port, useful when configured with port 0 in tests.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.deps.Config.Port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start evicts stale holders of the configured port, binds on all interfaces
// and launches the serve loop and the broadcaster timers. On bind failure
// after retries the server stays stopped and the error is returned.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	port := s.deps.Config.Port
	releasePort(port)

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	var listener net.Listener
	var err error
	for attempt := 1; attempt <= bindAttempts; attempt++ {
		listener, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		log.FileOnlyWarningLog.Printf("bind attempt %d/%d on %s failed: %v", attempt, bindAttempts, addr, err)
		if attempt < bindAttempts {
			time.Sleep(bindRetryDelay)
		}
	}
	if err != nil {
		return fmt.Errorf("could not bind %s after %d attempts: %w", addr, bindAttempts, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.broadcaster.Start()

	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.ErrorLog.Printf("HTTP server error: %v", err)
		}
	}()

	log.FileOnlyInfoLog.Printf("remote server listening on %s", addr)
	return nil
}

// Stop ends the broadcaster timers and shuts the HTTP server down. PTY
// sessions are the manager's to terminate; the caller decides whether they
// survive a restart.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.broadcaster.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
