package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v79"

	"photoshopai/backend/internal/middleware"
)

type checkoutRequest struct {
	Pack string `json:"pack"` // "small" | "large"
}

// handleCheckout opens a Stripe Checkout session for a credit pack. Only
// signed-in users can buy: anonymous device balances would strand paid
// credits on a clearable cookie.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, "payments not configured")
		return
	}
	if _, ok := middleware.UserID(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "sign in to buy credits")
		return
	}
	owner, _ := middleware.Owner(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pack == "" {
		writeError(w, http.StatusBadRequest, "pack is required")
		return
	}
	id, url, err := s.Payments.CreateCheckoutSession(owner, req.Pack)
	if err != nil {
		log.Printf("api: checkout %s pack=%s: %v", owner, req.Pack, err)
		writeError(w, http.StatusBadRequest, "could not create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "url": url})
}

// handleStripeWebhook grants purchased credits when a checkout session
// completes. The session id doubles as the idempotency key, so Stripe's
// redelivery retries are no-ops.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, "payments not configured")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	event, err := s.Payments.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("api: webhook signature: %v", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if event.Type == "checkout.session.completed" {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			log.Printf("api: webhook parse session: %v", err)
			writeError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
		owner := session.Metadata["owner_key"]
		credits, _ := strconv.Atoi(session.Metadata["credits"])
		pack := session.Metadata["pack"]
		if owner == "" || credits <= 0 {
			log.Printf("api: webhook session %s missing metadata", session.ID)
			writeError(w, http.StatusBadRequest, "missing metadata")
			return
		}
		res, err := s.Ledger.Apply(r.Context(), owner, "", credits, "purchase:"+pack, "stripe:"+session.ID)
		if err != nil {
			log.Printf("api: webhook credit grant %s: %v", owner, err)
			writeError(w, http.StatusInternalServerError, "db error")
			return
		}
		s.invalidateCredits(r, owner)
		log.Printf("api: granted %d credits to %s (session %s, idempotent=%v)", credits, owner, session.ID, res.Idempotent)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
