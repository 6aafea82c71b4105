// Package web provides the HTTP status server for the turbulence-sensor
// daemon: status page, JSON endpoints, the live widget feed and overlay
// controls.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/turbulence-sensor/internal/engine"
	"github.com/sweeney/turbulence-sensor/internal/host"
	"github.com/sweeney/turbulence-sensor/internal/status"
)

const writeWait = 2 * time.Second

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	widget     *host.Widget
	overlay    *host.Overlay
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

// New creates a Server that reads state from the given tracker and drives
// the two hosts.
func New(addr string, tracker *status.Tracker, widget *host.Widget, overlay *host.Overlay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		tracker: tracker,
		widget:  widget,
		overlay: overlay,
		log:     logger.With("component", "web"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/history.json", s.handleHistory)
	mux.HandleFunc("/ws", s.handleLive)
	mux.HandleFunc("POST /overlay/start", s.handleOverlayStart)
	mux.HandleFunc("POST /overlay/stop", s.handleOverlayStop)
	mux.HandleFunc("POST /overlay/dismiss", s.handleOverlayDismiss)
	mux.HandleFunc("POST /overlay/show", s.handleOverlayShow)
	mux.HandleFunc("POST /overlay/move", s.handleOverlayMove)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warn("render index failed", "err", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("host")
	if name == "" {
		name = "overlay"
	}
	e, ok := s.tracker.Snapshot().Engine(name)
	if !ok {
		http.Error(w, "unknown host", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatHistoryJSON(e.Snap))
}

// handleLive streams widget updates. Each open connection is one visible
// screen: the widget session runs while at least one is connected.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates := make(chan engine.Update, 1)
	unsubscribe := s.widget.Engine().Subscribe(func(u engine.Update) {
		// Keep only the newest update for slow clients.
		select {
		case updates <- u:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- u:
			default:
			}
		}
	})
	defer unsubscribe()

	hide, err := s.widget.Show()
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(unavailableJSON(err))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "sensor unavailable"))
		return
	}
	defer hide()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case u := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(liveJSON(u)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeOverlay(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.overlay.State())
}

func (s *Server) handleOverlayStart(w http.ResponseWriter, r *http.Request) {
	// The overlay session outlives this request.
	if err := s.overlay.Start(context.WithoutCancel(r.Context())); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, engine.ErrSensorUnavailable) {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), code)
		return
	}
	s.writeOverlay(w)
}

func (s *Server) handleOverlayStop(w http.ResponseWriter, r *http.Request) {
	s.overlay.Stop("http")
	s.writeOverlay(w)
}

func (s *Server) handleOverlayDismiss(w http.ResponseWriter, r *http.Request) {
	s.overlay.Dismiss()
	s.writeOverlay(w)
}

func (s *Server) handleOverlayShow(w http.ResponseWriter, r *http.Request) {
	if !s.overlay.Restore() {
		http.Error(w, "overlay not running", http.StatusConflict)
		return
	}
	s.writeOverlay(w)
}

// moveRequest is the body of POST /overlay/move.
type moveRequest struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

func (s *Server) handleOverlayMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		http.Error(w, "bad move request", http.StatusBadRequest)
		return
	}
	if !s.overlay.Move(req.DX, req.DY) {
		http.Error(w, "no visible indicator", http.StatusConflict)
		return
	}
	s.writeOverlay(w)
}
