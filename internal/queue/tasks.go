// Package queue holds the asynq background tasks: mirroring ephemeral
// provider URLs into object storage and settling jobs the API died on.
package queue

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeMirrorMedia   = "media:mirror"
	TypeReapStaleJobs = "jobs:reap_stale"
)

// MirrorMediaPayload points at a provider-hosted result that should be
// copied into our bucket before the upstream URL expires.
type MirrorMediaPayload struct {
	JobID     uuid.UUID `json:"job_id"`
	SourceURL string    `json:"source_url"`
	Feature   string    `json:"feature"`
}

func NewMirrorMediaTask(jobID uuid.UUID, sourceURL, feature string) (*asynq.Task, error) {
	payload, err := json.Marshal(MirrorMediaPayload{JobID: jobID, SourceURL: sourceURL, Feature: feature})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMirrorMedia, payload, asynq.MaxRetry(5)), nil
}

// NewReapStaleJobsTask sweeps generation jobs stuck in "running". Scheduled
// periodically; the handler is idempotent so overlap is harmless.
func NewReapStaleJobsTask() *asynq.Task {
	return asynq.NewTask(TypeReapStaleJobs, nil, asynq.MaxRetry(0))
}
