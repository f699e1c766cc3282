// Package web exposes the HTTP surface: the hierarchy and file APIs, the
// inbound webhook, the WebSocket event stream and the metrics endpoint.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/events"
	"github.com/drivemirror/drivemirror/internal/gdrive"
	"github.com/drivemirror/drivemirror/internal/notify"
	"github.com/drivemirror/drivemirror/internal/state"
	"github.com/drivemirror/drivemirror/internal/sync"
	"github.com/drivemirror/drivemirror/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	store      state.Store
	drive      *gdrive.Client
	engine     *sync.Engine
	dispatcher *notify.Dispatcher
	broker     *events.Broker
	port       int
	bind       string
	router     *chi.Mux
}

// NewServer creates a new web server
func NewServer(store state.Store, drive *gdrive.Client, engine *sync.Engine, dispatcher *notify.Dispatcher, broker *events.Broker, port int, bind string) *Server {
	s := &Server{
		store:      store,
		drive:      drive,
		engine:     engine,
		dispatcher: dispatcher,
		broker:     broker,
		port:       port,
		bind:       bind,
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Broker returns the event broker for broadcasting events
func (s *Server) Broker() *events.Broker {
	return s.broker
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger)

	r.Post("/webhook/drive", s.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		r.Get("/tree", s.handleTree)
		r.Get("/files", s.handleListFiles)
		r.Get("/folders", s.handleListFolders)
		r.Get("/files/{id}", s.handleGetFile)
		r.Get("/files/{id}/content", s.handleFileContent)
		r.Delete("/files/{id}", s.handleDeleteFile)
		r.Post("/sync", s.handleSync)
		r.Post("/channels/sync", s.handleChannelSync)
	})

	r.Get("/ws", s.broker.ServeWS)
	r.Handle("/metrics", promhttp.Handler())
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.bind != "" {
		addr = fmt.Sprintf("%s:%d", s.bind, s.port)
	} else {
		addr = fmt.Sprintf(":%d", s.port)
	}

	server := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow long-lived WebSocket connections
		// Chi middleware timeout (60s) protects regular requests
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		s.broker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
