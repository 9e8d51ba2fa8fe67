// internal/server/server.go
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/filetidy/filetidy/internal/agentmgr"
	"github.com/filetidy/filetidy/internal/config"
	"github.com/filetidy/filetidy/internal/events"
	"github.com/filetidy/filetidy/internal/notify"
	"github.com/filetidy/filetidy/internal/suggest"
	"github.com/filetidy/filetidy/internal/tasks"
)

// Server is filetidy's local control surface: status, task submission,
// suggestion-pipeline execution, and a live event stream.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	agentMgr *agentmgr.Manager
	queue    *tasks.Queue
	pipeline *suggest.Pipeline
	notifier *notify.Manager
	eventBus *events.Bus
	fileCfg  config.FileManagerConfig

	startTime time.Time
}

// New creates a Server wired to the daemon's shared components. addr is the
// listen address (e.g. "127.0.0.1:8787").
func New(addr string, agentMgr *agentmgr.Manager, queue *tasks.Queue, pipeline *suggest.Pipeline, notifier *notify.Manager, bus *events.Bus, fileCfg config.FileManagerConfig) *Server {
	s := &Server{
		hub:       NewHub(),
		agentMgr:  agentMgr,
		queue:     queue,
		pipeline:  pipeline,
		notifier:  notifier,
		eventBus:  bus,
		fileCfg:   fileCfg,
		startTime: time.Now(),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(SecurityHeadersMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/tasks", s.handleCreateTask).Methods("POST")
	api.HandleFunc("/suggestions/execute", s.handleExecuteSuggestions).Methods("POST")
	api.HandleFunc("/events", s.handleEvents)
}

// Start runs the hub's fan-out loop, bridges the event bus into it, and
// begins serving HTTP. It blocks until the server stops or errors.
func (s *Server) Start() error {
	go s.hub.Run()
	if s.eventBus != nil {
		go s.bridgeEvents()
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown closes the HTTP listener and all open connections immediately,
// without waiting for in-flight requests to finish.
func (s *Server) Shutdown() error {
	return s.httpServer.Close()
}

// bridgeEvents forwards every published event onto the websocket hub.
func (s *Server) bridgeEvents() {
	ch := s.eventBus.Subscribe("all", nil)
	defer s.eventBus.Unsubscribe("all", ch)
	for ev := range ch {
		s.hub.BroadcastJSON(WSMessage{Type: WSTypeEvent, Data: ev})
	}
}
