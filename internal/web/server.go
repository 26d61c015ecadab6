package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the two listeners: the JSON API and the websocket feed.
// They sit on separate ports so dashboards can proxy them independently.
type Server struct {
	log  *slog.Logger
	api  *http.Server
	feed *http.Server
	hub  *Hub
}

func NewServer(log *slog.Logger, api *API, hub *Hub, httpPort, wsPort int) *Server {
	if log == nil {
		log = slog.Default()
	}
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", hub.ServeWS)

	return &Server{
		log: log,
		hub: hub,
		api: &http.Server{
			Addr:              fmt.Sprintf(":%d", httpPort),
			Handler:           api.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		feed: &http.Server{
			Addr:              fmt.Sprintf(":%d", wsPort),
			Handler:           wsMux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches both listeners. Errors other than a clean close are logged,
// not fatal; the UDP engine keeps running without the read-out surfaces.
func (s *Server) Start() {
	go func() {
		s.log.Info("http api listening", "addr", s.api.Addr)
		if err := s.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api stopped", "error", err)
		}
	}()
	go func() {
		s.log.Info("websocket feed listening", "addr", s.feed.Addr)
		if err := s.feed.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("websocket feed stopped", "error", err)
		}
	}()
}

// Shutdown stops both listeners and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) {
	s.hub.Close()
	if err := s.api.Shutdown(ctx); err != nil {
		s.log.Warn("http api shutdown", "error", err)
	}
	if err := s.feed.Shutdown(ctx); err != nil {
		s.log.Warn("websocket feed shutdown", "error", err)
	}
}
