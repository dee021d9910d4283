package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"photoshopai/backend/internal/credit"
	"photoshopai/backend/internal/middleware"
	"photoshopai/backend/internal/store"
)

type creditsResponse struct {
	Key      string `json:"key"`
	Mode     string `json:"mode"` // "user" | "device" | "ip"
	DeviceID string `json:"deviceId,omitempty"`
	IP       string `json:"ip,omitempty"`
	Credits  int    `json:"credits"`
}

// resolveBalanceOwner picks the owner key for a credits read. Unauthenticated
// requests without a device cookie can still ask by IP (?by=ip), which keys
// the anonymous balance on the client address.
func (s *Server) resolveBalanceOwner(r *http.Request) (ownerKey, mode, deviceID, ip string) {
	ip = middleware.ClientIP(r.Context())
	if owner, ok := middleware.Owner(r.Context()); ok {
		mode = "device"
		if strings.HasPrefix(owner, "user:") {
			mode = "user"
		}
		return owner, mode, middleware.DeviceID(r.Context()), ip
	}
	if r.URL.Query().Get("by") == "ip" && ip != "" {
		return store.DeviceKey(ip), "ip", "", ip
	}
	return "", "", "", ip
}

// ensureOwner lazily creates the backing row for a device owner so a first
// read or debit finds a balance seeded with the free allowance. User rows
// are created by the auth middleware.
func (s *Server) ensureOwner(r *http.Request, ownerKey, ip string) {
	if s.DB == nil || !strings.HasPrefix(ownerKey, "device:") {
		return
	}
	if _, err := s.DB.EnsureDevice(r.Context(), strings.TrimPrefix(ownerKey, "device:"), ip); err != nil {
		log.Printf("api: ensure device %s: %v", ownerKey, err)
	}
}

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	ownerKey, mode, deviceID, ip := s.resolveBalanceOwner(r)
	if ownerKey == "" {
		writeError(w, http.StatusUnauthorized, "missing authorization")
		return
	}

	cacheKey := "credits:" + ownerKey
	if s.Cache != nil {
		if b, err := s.Cache.Get(r.Context(), cacheKey); err == nil && b != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(b)
			return
		}
	}

	s.ensureOwner(r, ownerKey, ip)
	credits, err := s.Ledger.Balance(r.Context(), ownerKey)
	if err != nil && !errors.Is(err, store.ErrUnknownOwner) {
		log.Printf("api: balance %s: %v", ownerKey, err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}

	resp := creditsResponse{Key: ownerKey, Mode: mode, DeviceID: deviceID, IP: ip, Credits: credits}
	if s.Cache != nil {
		if b, err := json.Marshal(resp); err == nil {
			s.Cache.Set(r.Context(), cacheKey, b)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type postCreditsRequest struct {
	Action         string `json:"action"` // "add" | "deduct"
	Amount         int    `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handlePostCredits(w http.ResponseWriter, r *http.Request) {
	owner, _ := middleware.Owner(r.Context())
	ip := middleware.ClientIP(r.Context())

	var req postCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	var delta int
	switch req.Action {
	case "add":
		delta = req.Amount
	case "deduct":
		delta = -req.Amount
	default:
		writeError(w, http.StatusBadRequest, "action must be add or deduct")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual:" + req.Action
	}

	s.ensureOwner(r, owner, ip)
	res, err := s.Ledger.Apply(r.Context(), owner, ip, delta, reason, req.IdempotencyKey)
	if err != nil {
		if credit.IsInsufficient(err) {
			writeError(w, http.StatusPaymentRequired, "insufficient credits")
			return
		}
		log.Printf("api: credits %s %s: %v", req.Action, owner, err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	s.invalidateCredits(r, owner)

	out := map[string]interface{}{"credits": res.Credits}
	if res.Idempotent {
		out["idempotent"] = true
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) invalidateCredits(r *http.Request, ownerKey string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(r.Context(), "credits:"+ownerKey); err != nil {
		log.Printf("api: cache invalidate %s: %v", ownerKey, err)
	}
}
