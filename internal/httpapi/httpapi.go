package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trymwestin/procare/internal/configflow"
	"github.com/trymwestin/procare/internal/core/coordinator"
	"github.com/trymwestin/procare/internal/core/state"
	"github.com/trymwestin/procare/internal/entries"
	"github.com/trymwestin/procare/internal/integration"
)

// Options wires the server to the rest of the daemon.
type Options struct {
	Hub       *integration.Hub
	Entries   *entries.Store
	Connector configflow.Connector
	UIDir     string
	CORSAll   bool
}

// Server is the HTTP API server.
type Server struct {
	hub     *integration.Hub
	store   *entries.Store
	connect configflow.Connector
	flows   *configflow.Registry
	uiDir   string
	corsAll bool
	log     *slog.Logger
	mux     *http.ServeMux
	upgrade websocket.Upgrader
}

// NewServer creates a new HTTP API server.
func NewServer(opts Options, log *slog.Logger) *Server {
	s := &Server{
		hub:     opts.Hub,
		store:   opts.Entries,
		connect: opts.Connector,
		flows:   configflow.NewRegistry(),
		uiDir:   opts.UIDir,
		corsAll: opts.CORSAll,
		log:     log,
		mux:     http.NewServeMux(),
		upgrade: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	if opts.CORSAll {
		s.upgrade.CheckOrigin = func(*http.Request) bool { return true }
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if !s.corsAll {
		return s.mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleGetStatus)
	s.mux.HandleFunc("GET /api/entries", s.handleListEntries)
	s.mux.HandleFunc("GET /api/entries/{id}/activities", s.handleGetActivities)
	s.mux.HandleFunc("POST /api/entries/{id}/refresh", s.handleRefresh)
	s.mux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)

	s.mux.HandleFunc("POST /api/flows", s.handleStartFlow)
	s.mux.HandleFunc("POST /api/flows/{id}", s.handleFlowStep)

	s.mux.HandleFunc("GET /api/ws", s.handleWS)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	if s.uiDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.uiDir)))
	} else {
		s.mux.HandleFunc("/", s.handleStaticFallback)
	}
}

func (s *Server) handleStaticFallback(w http.ResponseWriter, r *http.Request) {
	for _, dir := range []string{"internal/ui/dist", "/app/ui"} {
		if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
			http.FileServer(http.Dir(dir)).ServeHTTP(w, r)
			return
		}
	}
	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Procare Activities</h1><p>No UI configured. Set <code>ui_dir</code> or <code>PROCARE_UI_DIR</code>.</p><p><a href="/api/entries">Entries</a></p></body></html>`)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) corsHeaders(w http.ResponseWriter) {
	if s.corsAll {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	s.corsHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Entries ---

type entryView struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	KidID          string    `json:"kid_id"`
	KidName        string    `json:"kid_name"`
	Loaded         bool      `json:"loaded"`
	State          string    `json:"state,omitempty"`
	Available      bool      `json:"available"`
	ReauthRequired bool      `json:"reauth_required"`
	LastUpdated    time.Time `json:"last_updated,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
}

func (s *Server) entryViews() ([]entryView, error) {
	list, err := s.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]entryView, 0, len(list))
	for _, e := range list {
		v := entryView{ID: e.ID, Title: e.Title, KidID: e.Data.KidID, KidName: e.Data.KidName}
		if rt, ok := s.hub.Runtime(e.ID); ok {
			snap := rt.Store.Snapshot()
			v.Loaded = true
			v.State = rt.Sensor.State()
			v.Available = rt.Sensor.Available()
			v.ReauthRequired = snap.ReauthRequired
			v.LastUpdated = snap.LastUpdated
			v.LastError = snap.LastError
		}
		out = append(out, v)
	}
	return out, nil
}

type statusResponse struct {
	Entries        int `json:"entries"`
	Loaded         int `json:"loaded"`
	Available      int `json:"available"`
	ReauthRequired int `json:"reauth_required"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	views, err := s.entryViews()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var resp statusResponse
	resp.Entries = len(views)
	for _, v := range views {
		if v.Loaded {
			resp.Loaded++
		}
		if v.Available {
			resp.Available++
		}
		if v.ReauthRequired {
			resp.ReauthRequired++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEntries(w http.ResponseWriter, _ *http.Request) {
	views, err := s.entryViews()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": views})
}

type activitiesResponse struct {
	State      string `json:"state"`
	Attributes any    `json:"attributes"`
	state.Snapshot
}

func (s *Server) runtime(w http.ResponseWriter, r *http.Request) (*integration.Runtime, bool) {
	rt, ok := s.hub.Runtime(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "entry not loaded")
	}
	return rt, ok
}

func (s *Server) handleGetActivities(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, activitiesResponse{
		State:      rt.Sensor.State(),
		Attributes: rt.Sensor.Attributes(),
		Snapshot:   rt.Store.Snapshot(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	err := s.hub.Refresh(r.Context(), rt.Entry.ID)
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrReauthRequired):
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, integration.ErrNotLoaded):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rt.Store.Snapshot())
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.hub.Unload(r.Context(), id); err != nil && !errors.Is(err, integration.ErrNotLoaded) {
		s.log.Warn("unload failed", "entry_id", id, "error", err)
	}
	if err := s.store.Remove(id); err != nil {
		if errors.Is(err, entries.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.corsHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// --- Flows ---

func (s *Server) handleStartFlow(w http.ResponseWriter, _ *http.Request) {
	f := configflow.New(s.connect, s.store, s.log)
	s.flows.Add(f)
	s.writeJSON(w, http.StatusOK, f.Start())
}

type flowStepBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Kid      string `json:"kid"`
}

func (s *Server) handleFlowStep(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flows.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown flow")
		return
	}
	var body flowStepBody
	if err := s.readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	var res configflow.Result
	if body.Kid != "" {
		var err error
		res, err = f.StepSelectKid(r.Context(), body.Kid)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else {
		if body.Username == "" || body.Password == "" {
			s.writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}
		res = f.StepUser(r.Context(), body.Username, body.Password)
	}

	if f.Done() {
		s.flows.Remove(f.ID())
	}
	if res.Type == configflow.ResultCreateEntry {
		if _, err := s.hub.Setup(r.Context(), *res.Entry); err != nil {
			s.log.Error("failed to load new entry", "entry_id", res.Entry.ID, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, res)
}

// --- Live events ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsub := s.hub.Bus().Subscribe(64)
	defer unsub()

	// Reads only to notice the client going away.
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
		case evt, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
