// Package httpapi exposes the inbound HTTP surface: the Slack event
// endpoint and the authorization callback. Both translate requests into
// queue events; nothing is handled inline.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"hitbot/internal/event"
	"hitbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

type Server struct {
	cfg Config
	log logx.Logger
	put func(ev event.Event)
	srv *http.Server
}

func New(cfg Config, put func(ev event.Event), log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log.With(logx.String("svc", "httpapi")), put: put}
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/slack/events", s.handleEvent).Methods(http.MethodPost)
	r.HandleFunc("/slack/authorized", s.handleAuthorized).Methods(http.MethodPost)

	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type inboundEvent struct {
	User    string `json:"user"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	Public  bool   `json:"public"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var in inboundEvent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if in.User == "" || in.Text == "" {
		http.Error(w, "user and text are required", http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(in.Text)
	if strings.HasPrefix(text, "!") || strings.HasPrefix(text, "<@") {
		s.put(event.NewCommand(in.User, in.Channel, text, in.Public))
	} else {
		s.put(event.NewMessage(in.User, in.Channel, text, in.Public))
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAuthorized(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	user := r.PostFormValue("user")
	uid := r.PostFormValue("uid")
	valid := r.PostFormValue("valid") == "true"
	if user == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	s.put(event.NewValidation(user, uid, valid, !valid))
	w.WriteHeader(http.StatusAccepted)
}
