// Package admin serves the operational HTTP surface: subscriber
// management, operator broadcasts, health, and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"cratio-alerts/internal/config"
	"cratio-alerts/internal/monitor"
	"cratio-alerts/internal/registry"
)

// Broadcaster delivers an operator-authored message to every subscriber.
type Broadcaster interface {
	BroadcastText(ctx context.Context, text monitor.RenderedText) error
}

// Server hosts the admin API.
type Server struct {
	cfg         config.AdminConfig
	registry    *registry.Registry
	broadcaster Broadcaster
	logger      zerolog.Logger
}

// New constructs the admin server. The broadcaster may be nil when
// alerting is disabled; broadcast requests then return 503.
func New(cfg config.AdminConfig, reg *registry.Registry, broadcaster Broadcaster, logger zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		registry:    reg,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "admin").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/subscribers", s.handleListSubscribers)
		r.Post("/subscribers", s.handleAddSubscriber)
		r.Delete("/subscribers/{account}", s.handleRemoveSubscriber)
		r.Post("/broadcast", s.handleBroadcast)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.registry.Count(),
	})
}

type subscriberPayload struct {
	Account        string `json:"account"`
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
}

func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs := s.registry.Snapshot()
	payload := make([]subscriberPayload, 0, len(subs))
	for _, sub := range subs {
		payload = append(payload, subscriberPayload{
			Account:        sub.Account,
			TelegramChatID: sub.TelegramChatID,
			Phone:          sub.Phone,
			Email:          sub.Email,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": payload})
}

func (s *Server) handleAddSubscriber(w http.ResponseWriter, r *http.Request) {
	var payload subscriberPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub := registry.Subscriber{
		Account:        payload.Account,
		TelegramChatID: payload.TelegramChatID,
		Phone:          payload.Phone,
		Email:          payload.Email,
	}

	switch err := s.registry.Add(r.Context(), sub); {
	case errors.Is(err, registry.ErrAlreadySubscribed):
		writeError(w, http.StatusConflict, "already subscribed")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "subscribed"})
	}
}

func (s *Server) handleRemoveSubscriber(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	switch err := s.registry.Remove(r.Context(), account); {
	case errors.Is(err, registry.ErrUnknownSubscriber):
		writeError(w, http.StatusNotFound, "unknown subscriber")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
	}
}

type broadcastPayload struct {
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "alerting disabled")
		return
	}

	var payload broadcastPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	subject := payload.Subject
	if subject == "" {
		subject = "📣 Announcement"
	}

	text := monitor.RenderedText{Subject: subject, Body: payload.Message}
	if err := s.broadcaster.BroadcastText(r.Context(), text); err != nil {
		s.logger.Error().Err(err).Msg("broadcast failed")
		writeError(w, http.StatusInternalServerError, "broadcast failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "broadcast dispatched",
		"recipients": s.registry.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
