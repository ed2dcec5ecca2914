package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"orienteer/punchcard-go/pkg/reader"
	"orienteer/punchcard-go/pkg/readlog"
)

const defaultReadsLimit = 50

// server exposes the session over REST and a websocket event feed.
type server struct {
	log     zerolog.Logger
	session *reader.Session
	journal *readlog.Store // nil when journaling is disabled
	hub     *wsHub
	router  chi.Router
}

func newServer(log zerolog.Logger, session *reader.Session, journal *readlog.Store, hub *wsHub) *server {
	s := &server{
		log:     log,
		session: session,
		journal: journal,
		hub:     hub,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Get("/reads", s.handleReads)
	})
	s.router.Get("/ws", s.hub.serveWS)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.session.Status())
}

func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := s.session.Connect()
	if err == nil {
		s.respondJSON(w, http.StatusOK, s.session.Status())
		return
	}

	if errors.Is(err, reader.ErrAlreadyConnected) {
		s.respondError(w, http.StatusConflict, err.Error(), "")
		return
	}

	var cerr *reader.ConnectionError
	if errors.As(err, &cerr) {
		s.respondError(w, http.StatusBadGateway, cerr.Error(), cerr.Guidance())
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error(), "")
}

func (s *server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Disconnect(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	s.respondJSON(w, http.StatusOK, s.session.Status())
}

func (s *server) handleReads(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.respondError(w, http.StatusNotFound, "read journal disabled", "")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = defaultReadsLimit
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if entries == nil {
		entries = []readlog.Entry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func (s *server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn().Err(err).Msg("writing response")
	}
}

func (s *server) respondError(w http.ResponseWriter, status int, msg, guidance string) {
	s.respondJSON(w, status, map[string]string{
		"error":    msg,
		"guidance": guidance,
	})
}

// OnReaderEvent implements reader.Observer: every session event is broadcast
// to websocket clients, and card reads are journaled.
func (s *server) OnReaderEvent(ev reader.Event) {
	msg := wsMessage{Type: ev.Type.String(), Card: ev.Card}
	if ev.Err != nil {
		msg.Err = ev.Err.Error()
	}
	if data, err := json.Marshal(msg); err == nil {
		s.hub.broadcast <- data
	}

	if ev.Type == reader.EventCardRead && s.journal != nil && ev.Card != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.journal.Insert(ctx, ev.Card); err != nil {
			s.log.Error().Err(err).Uint32("card", ev.Card.CardNumber).Msg("journaling card read")
		}
	}
}
