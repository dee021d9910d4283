package api

import (
	"log"
	"net/http"
	"strconv"
)

func queryInt(r *http.Request, key, def string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	if n == 0 {
		n, _ = strconv.Atoi(def)
	}
	return n
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	users, err := s.DB.CountUsers(r.Context())
	if err != nil {
		log.Printf("api: admin stats: %v", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	spent, granted, err := s.DB.LedgerTotals(r.Context())
	if err != nil {
		log.Printf("api: admin stats: %v", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"users":          users,
		"creditsSpent":   spent,
		"creditsGranted": granted,
	})
}

func (s *Server) handleAdminLedger(w http.ResponseWriter, r *http.Request) {
	entries, total, err := s.DB.ListLedger(r.Context(),
		r.URL.Query().Get("owner"),
		queryInt(r, "limit", "50"),
		queryInt(r, "offset", "0"))
	if err != nil {
		log.Printf("api: admin ledger: %v", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": total})
}

func (s *Server) handleAdminJobs(w http.ResponseWriter, r *http.Request) {
	jobs, total, err := s.DB.ListGenerationJobs(r.Context(),
		queryInt(r, "limit", "50"),
		queryInt(r, "offset", "0"),
		r.URL.Query().Get("status"),
		r.URL.Query().Get("feature"))
	if err != nil {
		log.Printf("api: admin jobs: %v", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "total": total})
}
