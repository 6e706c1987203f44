package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/glossalabs/glossa-core/internal/bus"
	"github.com/glossalabs/glossa-core/internal/config"
	"github.com/glossalabs/glossa-core/internal/delivery"
	"github.com/glossalabs/glossa-core/internal/eventstore"
	"github.com/glossalabs/glossa-core/internal/lang"
	"github.com/glossalabs/glossa-core/internal/lipsync"
	"github.com/glossalabs/glossa-core/internal/pipeline"
	"github.com/glossalabs/glossa-core/internal/room"
	"github.com/glossalabs/glossa-core/internal/session"
)

// Server owns the websocket ingress: one endpoint for presenters streaming
// audio, one for listeners receiving translations, plus the room and
// lip-sync REST surface.
type Server struct {
	ctx      context.Context
	log      *slog.Logger
	cfg      config.Config
	registry *room.Registry
	pipeline *pipeline.Pipeline
	store    *eventstore.Store
	bus      *bus.Client     // optional
	lipsync  *lipsync.Client // optional
	upgrader websocket.Upgrader
}

func New(ctx context.Context, cfg config.Config, pl *pipeline.Pipeline, registry *room.Registry, store *eventstore.Store, busClient *bus.Client, lipsyncClient *lipsync.Client, log *slog.Logger) *Server {
	return &Server{
		ctx:      ctx,
		log:      log.With(slog.String("component", "server")),
		cfg:      cfg,
		registry: registry,
		pipeline: pl,
		store:    store,
		bus:      busClient,
		lipsync:  lipsyncClient,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Register attaches all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/presenter", s.handlePresenter)
	mux.HandleFunc("/ws/listen", s.handleListen)
	mux.HandleFunc("/v1/rooms", s.handleRooms)
	mux.HandleFunc("/v1/rooms/", s.handleRoomUtterances)
	if s.lipsync != nil {
		mux.HandleFunc("/v1/lipsync/jobs", s.handleLipsyncSubmit)
		mux.HandleFunc("/v1/lipsync/jobs/", s.handleLipsyncJob)
	}
}

// envelope is the parsed form of a presenter's text-frame control message.
type envelope struct {
	Type     string          `json:"type"`
	Language string          `json:"language,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handlePresenter(w http.ResponseWriter, r *http.Request) {
	roomKey := r.URL.Query().Get("room")
	if roomKey == "" {
		roomKey = s.cfg.Rooms.DefaultRoom
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var pub session.Publisher
	if s.bus != nil {
		pub = s.bus
	}
	sess := session.New(s.ctx, roomKey, s.cfg.Audio, s.pipeline, s.registry, pub, s.log)
	sess.Start()
	defer sess.Close()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("presenter stream ended", slog.String("error", err.Error()))
			}
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			sess.HandleFrame(data)
		case websocket.TextMessage:
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.log.Warn("unparseable presenter message", slog.String("error", err.Error()))
				continue
			}
			if env.Type == "pose" {
				sess.HandlePose(env.Data)
			}
		}
	}
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	roomKey := r.URL.Query().Get("room")
	if roomKey == "" {
		roomKey = s.cfg.Rooms.DefaultRoom
	}
	language := r.URL.Query().Get("lang")
	if language == "" {
		language = s.cfg.Rooms.DefaultLanguage
	} else if !lang.Supported(language) {
		http.Error(w, "unsupported language: "+language, http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := delivery.NewChannel(delivery.NewWSConn(conn), s.log, nil)
	sub, err := s.registry.Join(roomKey, language, ch)
	if err != nil {
		ch.Close()
		return
	}
	// Installed after Join so the closure captures a settled id. A write
	// that fails in between leaves cleanup to the deferred Leave.
	subscriberID := sub.ID
	ch.SetOnDead(func() { s.registry.Leave(roomKey, subscriberID) })
	defer s.registry.Leave(roomKey, subscriberID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == "set_language" {
			if err := sub.SetLanguage(env.Language); err != nil {
				s.log.Warn("rejected language switch",
					slog.String("subscriber", sub.ID),
					slog.String("language", env.Language))
			}
		}
	}
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type roomInfo struct {
		Room        string `json:"room"`
		Subscribers int    `json:"subscribers"`
	}
	rooms := make([]roomInfo, 0)
	for _, key := range s.registry.Rooms() {
		rooms = append(rooms, roomInfo{Room: key, Subscribers: len(s.registry.Snapshot(key))})
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleRoomUtterances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/rooms/")
	roomKey, ok := strings.CutSuffix(rest, "/utterances")
	if !ok || roomKey == "" {
		http.NotFound(w, r)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	utterances, err := s.store.ListRoomUtterances(r.Context(), room.Normalize(roomKey), limit)
	if err != nil {
		http.Error(w, "failed to list utterances", http.StatusInternalServerError)
		return
	}
	if utterances == nil {
		utterances = []eventstore.Utterance{}
	}
	writeJSON(w, http.StatusOK, utterances)
}

func (s *Server) handleLipsyncSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lipsync.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	jobID, err := s.lipsync.Submit(r.Context(), req)
	if err != nil {
		var unsupported lang.ErrUnsupported
		if errors.As(err, &unsupported) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "submit failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, lipsync.Status{JobID: jobID, State: lipsync.StateQueued})
}

func (s *Server) handleLipsyncJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/lipsync/jobs/")
	if jobID, ok := strings.CutSuffix(rest, "/result"); ok {
		data, err := s.lipsync.Fetch(r.Context(), jobID)
		if err != nil {
			http.Error(w, "fetch failed", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	status, err := s.lipsync.Poll(r.Context(), rest)
	if err != nil {
		http.Error(w, "poll failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
