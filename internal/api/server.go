// Package api wires the HTTP surface: credit queries and grants, Stripe
// checkout, the generation feature routes, and the admin read endpoints.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	repgo "github.com/replicate/replicate-go"

	"photoshopai/backend/internal/cache"
	"photoshopai/backend/internal/config"
	"photoshopai/backend/internal/credit"
	"photoshopai/backend/internal/gemini"
	"photoshopai/backend/internal/middleware"
	"photoshopai/backend/internal/payments"
	"photoshopai/backend/internal/provider"
	"photoshopai/backend/internal/storage"
	"photoshopai/backend/internal/store"
)

// ReplicateRunner runs one Replicate model call to completion.
type ReplicateRunner interface {
	Run(ctx context.Context, identifier string, input repgo.PredictionInput) (provider.Output, error)
}

// GeminiGenerator runs one Gemini image generation call.
type GeminiGenerator interface {
	GenerateImage(ctx context.Context, model, prompt string, images []gemini.InputImage) (provider.Output, error)
}

type Server struct {
	DB       *store.DB
	Ledger   credit.Ledger
	Cache    *cache.Redis
	Tasks    *asynq.Client
	Storage  *storage.Store
	Payments *payments.Service
	Repl     ReplicateRunner
	Gemini   GeminiGenerator
	JWKS     *keyfunc.JWKS
	Cfg      *config.Config
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/media/*", s.handleMedia)

	// Webhook authenticates by signature, not by bearer token.
	r.Post("/api/stripe/webhook", s.handleStripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ResolveOwner(s.Cfg.SupabaseJWTSecret, s.JWKS, s.DB, false))
		r.Use(middleware.RateLimitByIP(60))
		r.Get("/api/credits", s.handleGetCredits)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.ResolveOwner(s.Cfg.SupabaseJWTSecret, s.JWKS, s.DB, true))
		r.Use(middleware.RateLimitByOwner(30))

		r.Post("/api/credits", s.handlePostCredits)
		r.Post("/api/checkout", s.handleCheckout)

		r.Post("/api/edit-image", s.handleEditImage)
		r.Post("/api/ghiblify", s.handleGhiblify)
		r.Post("/api/room-canvas", s.handleRoomCanvas)
		r.Post("/api/thumbnail-studio", s.handleThumbnailStudio)
		r.Post("/api/headshotted", s.handleHeadshot)
		r.Post("/api/transparent", s.handleTransparent)
		r.Post("/api/upscale", s.handleUpscale)
		r.Post("/api/restore-image", s.handleRestoreImage)
		r.Post("/api/pic2vid", s.handlePic2Vid)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.ResolveOwner(s.Cfg.SupabaseJWTSecret, s.JWKS, s.DB, true))
		r.Use(middleware.RequireAdmin(s.DB))
		r.Get("/api/admin/stats", s.handleAdminStats)
		r.Get("/api/admin/ledger", s.handleAdminLedger)
		r.Get("/api/admin/jobs", s.handleAdminJobs)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.Pool.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	if s.Cache != nil {
		if err := s.Cache.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleMedia streams a mirrored object out of the bucket when no public
// CDN URL is configured.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if s.Storage == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	body, contentType, err := s.Storage.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, body); err != nil {
		log.Printf("api: media stream %s: %v", key, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
