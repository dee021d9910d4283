package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"photoshopai/backend/internal/credit"
	"photoshopai/backend/internal/storage"
	"photoshopai/backend/internal/store"
)

// StaleJobAge is how long a job may sit in "running" before the reaper
// treats the process as dead and refunds the charge.
const StaleJobAge = 30 * time.Minute

type Handlers struct {
	DB      *store.DB
	Ledger  credit.Ledger
	Storage *storage.Store
	HTTP    *http.Client
}

func NewHandlers(db *store.DB, ledger credit.Ledger, st *storage.Store) *Handlers {
	return &Handlers{
		DB:      db,
		Ledger:  ledger,
		Storage: st,
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeMirrorMedia, h.HandleMirrorMedia)
	mux.HandleFunc(TypeReapStaleJobs, h.HandleReapStaleJobs)
}

// HandleMirrorMedia downloads the provider URL and re-uploads it to our
// bucket, then points the job's stored output at the permanent copy.
func (h *Handlers) HandleMirrorMedia(ctx context.Context, t *asynq.Task) error {
	if h.Storage == nil {
		return nil
	}
	var p MirrorMediaPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("mirror: bad payload: %v: %w", err, asynq.SkipRetry)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("mirror: %v: %w", err, asynq.SkipRetry)
	}
	resp, err := h.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mirror: fetch %s: %w", p.SourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// Expired provider URLs never come back; retrying wastes attempts.
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("mirror: source gone (%d): %w", resp.StatusCode, asynq.SkipRetry)
		}
		return fmt.Errorf("mirror: fetch %s: status %d", p.SourceURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 100<<20))
	if err != nil {
		return fmt.Errorf("mirror: read body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("media/%s/%s%s", p.Feature, p.JobID, extFor(contentType))
	if err := h.Storage.Put(ctx, key, bytes.NewReader(body), contentType); err != nil {
		return fmt.Errorf("mirror: upload %s: %w", key, err)
	}
	if err := h.DB.UpdateGenerationJobOutput(ctx, p.JobID, map[string]string{"url": h.Storage.URL(key)}); err != nil {
		return fmt.Errorf("mirror: update job %s: %w", p.JobID, err)
	}
	log.Printf("queue: mirrored %s -> %s", p.SourceURL, key)
	return nil
}

// HandleReapStaleJobs marks long-running jobs failed and refunds their
// charge under the same idempotency key the request's own failure path
// uses, so a request that outlives the sweep cannot be refunded twice.
func (h *Handlers) HandleReapStaleJobs(ctx context.Context, t *asynq.Task) error {
	jobs, err := h.DB.ListStaleRunningJobs(ctx, int(StaleJobAge.Minutes()))
	if err != nil {
		return fmt.Errorf("reap: list stale jobs: %w", err)
	}
	for _, j := range jobs {
		if err := h.DB.FinishGenerationJob(ctx, j.ID, "failed", nil, "abandoned: process died mid-request"); err != nil {
			log.Printf("queue: reap mark failed %s: %v", j.ID, err)
			continue
		}
		if j.CreditsUsed <= 0 {
			continue
		}
		if _, err := h.Ledger.Apply(ctx, j.OwnerKey, "", j.CreditsUsed, "refund:"+j.Feature, refundKey(j)); err != nil {
			log.Printf("queue: reap refund %s: %v", j.ID, err)
			continue
		}
		log.Printf("queue: reaped job %s, refunded %d to %s", j.ID, j.CreditsUsed, j.OwnerKey)
	}
	return nil
}

// refundKey derives the refund idempotency key for an abandoned job. Jobs
// record the debit's idempotency key, so the sweep's refund lands on the
// same key as a late failure-path refund from the original request. Jobs
// predating that record fall back to a job-scoped key.
func refundKey(j store.GenerationJob) string {
	var in struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if len(j.Input) > 0 {
		if err := json.Unmarshal(j.Input, &in); err == nil && in.IdempotencyKey != "" {
			return in.IdempotencyKey + ":refund"
		}
	}
	return j.ID.String() + ":reaper-refund"
}

func extFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	}
	return ""
}
