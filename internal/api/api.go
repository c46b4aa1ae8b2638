// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves the HTTP control surface of a running driver.
//
// Drivers are single threaded. Handlers never touch the driver directly:
// they hand closures to the poll loop, which runs them between polls via
// Service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Thermoquad/acomms/internal/store"
	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
)

const (
	// recentCapacity bounds the in-memory receive history.
	recentCapacity = 100
	defaultLimit   = 20
	requestTimeout = 30 * time.Second
)

// Server routes API requests into the driver poll loop.
type Server struct {
	calls chan func(driver.Modem)
	db    *store.DB
	log   *slog.Logger

	mu     sync.Mutex
	recent []Transmission
}

// New builds a server. db may be nil, in which case /received serves the
// in-memory history only.
func New(db *store.DB, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		calls: make(chan func(driver.Modem)),
		db:    db,
		log:   log.With("component", "api"),
	}
}

// Attach records received transmissions for /received.
func (s *Server) Attach(sig *acomms.Signals) {
	sig.OnReceive(func(m *acomms.ModemTransmission) {
		t := FromTransmission(m)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.recent = append(s.recent, t)
		if len(s.recent) > recentCapacity {
			s.recent = s.recent[len(s.recent)-recentCapacity:]
		}
	})
}

// Service runs every pending request against m. The poll loop calls it
// once per iteration.
func (s *Server) Service(m driver.Modem) {
	for {
		select {
		case fn := <-s.calls:
			fn(m)
		default:
			return
		}
	}
}

// Do runs fn on the poll loop and waits for it.
func (s *Server) Do(ctx context.Context, fn func(driver.Modem)) error {
	done := make(chan struct{})
	select {
	case s.calls <- func(m driver.Modem) { fn(m); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.health)
	r.Get("/status", s.status)
	r.Get("/received", s.received)
	r.Get("/lines", s.lines)
	r.Post("/transmit", s.transmit)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]any{
		"error": message,
		"code":  status,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "service": "acomms"}
	if s.db != nil {
		if err := s.db.Health(); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		}
	}
	jsonResponse(w, http.StatusOK, resp)
}

// Status is the /status body.
type Status struct {
	Driver  string            `json:"driver"`
	ModemID int               `json:"modem_id"`
	State   string            `json:"state"`
	Stats   driver.Statistics `json:"stats"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	var st Status
	err := s.Do(r.Context(), func(m driver.Modem) {
		st = Status{Driver: m.Vendor(), ModemID: m.ID(), State: m.State(), Stats: m.Stats()}
	})
	if err != nil {
		errorResponse(w, http.StatusServiceUnavailable, "driver busy: "+err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

// queryLimit reads ?limit, writing a 400 when it is not a positive integer.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func (s *Server) received(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	if s.db != nil {
		records, err := s.db.Transmissions(store.EventReceive, limit)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "failed to read traffic log: "+err.Error())
			return
		}
		out := make([]Transmission, 0, len(records))
		for _, rec := range records {
			m, err := rec.Decode()
			if err != nil {
				s.log.Warn("undecodable stored transmission", "id", rec.ID, "error", err)
				continue
			}
			out = append(out, FromTransmission(m))
		}
		jsonResponse(w, http.StatusOK, out)
		return
	}

	s.mu.Lock()
	n := min(limit, len(s.recent))
	out := make([]Transmission, 0, n)
	for i := len(s.recent) - 1; i >= len(s.recent)-n; i-- {
		out = append(out, s.recent[i])
	}
	s.mu.Unlock()
	jsonResponse(w, http.StatusOK, out)
}

// Line is a raw modem line from the traffic log.
type Line struct {
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
}

func (s *Server) lines(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	if s.db == nil {
		errorResponse(w, http.StatusNotFound, "traffic log not configured")
		return
	}
	records, err := s.db.Lines(limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "failed to read traffic log: "+err.Error())
		return
	}
	out := make([]Line, 0, len(records))
	for _, rec := range records {
		out = append(out, Line{Time: rec.Time, Direction: rec.Direction, Text: rec.Text})
	}
	jsonResponse(w, http.StatusOK, out)
}

func (s *Server) transmit(w http.ResponseWriter, r *http.Request) {
	var req Transmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	m, err := req.ToTransmission()
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var sendErr error
	err = s.Do(r.Context(), func(d driver.Modem) {
		sendErr = d.HandleInitiateTransmission(m)
		if sendErr == nil && s.db != nil {
			if err := s.db.AddTransmission(d.Vendor(), store.EventInitiate, m); err != nil {
				s.log.Warn("failed to store transmission", "error", err)
			}
		}
	})
	switch {
	case err != nil:
		errorResponse(w, http.StatusServiceUnavailable, "driver busy: "+err.Error())
	case sendErr != nil:
		errorResponse(w, http.StatusBadRequest, sendErr.Error())
	default:
		jsonResponse(w, http.StatusAccepted, FromTransmission(m))
	}
}
