package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GenerationJob is the audit record of one feature call. Rows are written
// before the provider call and finalized synchronously; a row left in
// "running" means the process died mid-request and the reaper settles it.
type GenerationJob struct {
	ID          uuid.UUID       `json:"id"`
	OwnerKey    string          `json:"owner_key"`
	Feature     string          `json:"feature"`
	Status      string          `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreditsUsed int             `json:"credits_used"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

func (db *DB) CreateGenerationJob(ctx context.Context, ownerKey, feature string, input interface{}, creditsUsed int) (uuid.UUID, error) {
	inBytes, _ := json.Marshal(input)
	id := uuid.New()
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO generation_jobs (id, owner_key, feature, input, credits_used) VALUES ($1,$2,$3,$4,$5)`,
		id, ownerKey, feature, inBytes, creditsUsed)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (db *DB) GetGenerationJob(ctx context.Context, id uuid.UUID) (*GenerationJob, error) {
	var j GenerationJob
	err := db.Pool.QueryRow(ctx,
		`SELECT id, owner_key, feature, status, input, output, error, credits_used, created_at::text, updated_at::text
		 FROM generation_jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.OwnerKey, &j.Feature, &j.Status, &j.Input, &j.Output, &j.Error, &j.CreditsUsed, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &j, err
}

func (db *DB) FinishGenerationJob(ctx context.Context, id uuid.UUID, status string, output interface{}, jobErr string) error {
	var outBytes []byte
	if output != nil {
		outBytes, _ = json.Marshal(output)
	}
	var errPtr *string
	if jobErr != "" {
		errPtr = &jobErr
	}
	_, err := db.Pool.Exec(ctx,
		`UPDATE generation_jobs SET status = $2, output = COALESCE($3, output), error = $4, updated_at = NOW() WHERE id = $1`,
		id, status, outBytes, errPtr)
	return err
}

// UpdateGenerationJobOutput swaps the stored output (e.g. after the media
// mirror replaces a provider URL with a permanent one).
func (db *DB) UpdateGenerationJobOutput(ctx context.Context, id uuid.UUID, output interface{}) error {
	outBytes, _ := json.Marshal(output)
	_, err := db.Pool.Exec(ctx,
		`UPDATE generation_jobs SET output = $2, updated_at = NOW() WHERE id = $1`, id, outBytes)
	return err
}

// ListStaleRunningJobs returns jobs stuck in "running" longer than maxAgeMinutes.
func (db *DB) ListStaleRunningJobs(ctx context.Context, maxAgeMinutes int) ([]GenerationJob, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, owner_key, feature, status, input, output, error, credits_used, created_at::text, updated_at::text
		 FROM generation_jobs
		 WHERE status = 'running' AND updated_at < NOW() - make_interval(mins => $1)`, maxAgeMinutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GenerationJob
	for rows.Next() {
		var j GenerationJob
		if err := rows.Scan(&j.ID, &j.OwnerKey, &j.Feature, &j.Status, &j.Input, &j.Output, &j.Error, &j.CreditsUsed, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListGenerationJobs lists recent jobs for admin, optionally filtered by
// status and feature.
func (db *DB) ListGenerationJobs(ctx context.Context, limit, offset int, status, feature string) ([]GenerationJob, int, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := `WHERE ($3 = '' OR status = $3) AND ($4 = '' OR feature = $4)`
	rows, err := db.Pool.Query(ctx,
		`SELECT id, owner_key, feature, status, input, output, error, credits_used, created_at::text, updated_at::text
		 FROM generation_jobs `+where+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset, status, feature)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []GenerationJob
	for rows.Next() {
		var j GenerationJob
		if err := rows.Scan(&j.ID, &j.OwnerKey, &j.Feature, &j.Status, &j.Input, &j.Output, &j.Error, &j.CreditsUsed, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, j)
	}
	var total int
	if err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM generation_jobs WHERE ($1 = '' OR status = $1) AND ($2 = '' OR feature = $2)`,
		status, feature).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, rows.Err()
}
