package job

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/riptide-app/riptide/internal/database"
	"github.com/riptide-app/riptide/pkg/logger"
)

var log = logger.Get("JobStore")

type (
	jobModel struct {
		ID            uuid.UUID                     `db:"id"`
		URLs          database.JsonColumn[[]string] `db:"urls"`
		WantVideo     bool                          `db:"want_video"`
		WantAudio     bool                          `db:"want_audio"`
		WantSubtitles bool                          `db:"want_subtitles"`
		SubtitleLangs database.JsonColumn[[]string] `db:"subtitle_langs"`
		Status        Status                        `db:"status"`
		Attempts      int                           `db:"attempts"`
		FailureReason sql.NullString                `db:"failure_reason"`
		CreatedAt     time.Time                     `db:"created_at"`
		UpdatedAt     time.Time                     `db:"updated_at"`
	}

	artifactModel struct {
		ID          int64        `db:"id"`
		JobID       uuid.UUID    `db:"job_id"`
		URL         string       `db:"url"`
		Kind        ArtifactKind `db:"kind"`
		OutputPath  string       `db:"output_path"`
		Ok          bool         `db:"ok"`
		ErrorDetail string       `db:"error_detail"`
		CreatedAt   time.Time    `db:"created_at"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

func selectJobBuilder() squirrel.SelectBuilder {
	return squirrel.StatementBuilder.
		PlaceholderFormat(squirrel.Dollar).
		Select("id", "urls", "want_video", "want_audio", "want_subtitles",
			"subtitle_langs", "status", "attempts", "failure_reason",
			"created_at", "updated_at").
		From("jobs")
}

// Create persists a brand new job. The jobs status and attempt counter are
// stored as-is, so callers are expected to pass a freshly constructed job.
func (store *Store) Create(db database.Queryable, job *Job) error {
	_, err := db.Exec(`
		INSERT INTO jobs(id, urls, want_video, want_audio, want_subtitles, subtitle_langs, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, current_timestamp, current_timestamp)
	`, job.ID, database.NewJsonColumn(job.URLs),
		job.Artifacts.Video, job.Artifacts.Audio, job.Artifacts.Subtitles,
		database.NewJsonColumn(orEmpty(job.Artifacts.SubtitleLangs)),
		job.Status, job.Attempts)
	if err != nil {
		return fmt.Errorf("failed to insert new job: %w", err)
	}

	return nil
}

// Get returns the job with the ID provided, along with any artifact results
// recorded against it. ErrJobNotFound is returned for unknown IDs.
func (store *Store) Get(db database.Queryable, id uuid.UUID) (*Job, error) {
	query, args, err := selectJobBuilder().Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct get job query: %w", err)
	}

	var model jobModel
	if err := db.Get(&model, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}

		return nil, err
	}

	var artifacts []artifactModel
	if err := db.Select(&artifacts, `SELECT * FROM job_artifacts WHERE job_id=$1 ORDER BY id`, id); err != nil {
		return nil, err
	}

	return newJobFromModels(&model, artifacts), nil
}

// List returns jobs ordered newest-first, optionally filtered by status.
// Artifact results are NOT populated by this method.
func (store *Store) List(db database.Queryable, status Status, limit int) ([]*Job, error) {
	builder := selectJobBuilder().OrderBy("created_at DESC").Limit(uint64(limit))
	if status != "" {
		builder = builder.Where(squirrel.Eq{"status": status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list jobs query: %w", err)
	}

	var models []jobModel
	if err := db.Select(&models, query, args...); err != nil {
		return nil, err
	}

	jobs := make([]*Job, len(models))
	for k := range models {
		jobs[k] = newJobFromModels(&models[k], nil)
	}

	return jobs, nil
}

// Claim transitions a queued job to running, incrementing the attempt
// counter. The transition is a compare-and-set on the current status, which
// is what enforces the single-writer invariant: when a queue message is
// delivered more than once, only the first worker to claim the job wins and
// the rest receive ErrNotClaimable.
func (store *Store) Claim(db database.Queryable, id uuid.UUID) error {
	result, err := db.Exec(`
		UPDATE jobs SET status=$1, attempts=attempts+1, updated_at=current_timestamp
		WHERE id=$2 AND status=$3
	`, StatusRunning, id, StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return ErrNotClaimable
	}

	return nil
}

// Complete records the terminal outcome of a job: every artifact result is
// inserted and the jobs status is updated, all inside the transaction
// provided. Partial results are never visible without a terminal status
// because both writes commit atomically.
func (store *Store) Complete(tx *sqlx.Tx, id uuid.UUID, status Status, reason string, results []ArtifactResult) error {
	if !status.Terminal() {
		return ErrNotTerminal
	}

	for _, res := range results {
		_, err := tx.Exec(`
			INSERT INTO job_artifacts(job_id, url, kind, output_path, ok, error_detail, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, current_timestamp)
		`, id, res.URL, res.Kind, res.OutputPath, res.Ok, res.ErrorDetail)
		if err != nil {
			return fmt.Errorf("failed to insert artifact result for job %s: %w", id, err)
		}
	}

	return store.updateStatus(tx, id, status, reason)
}

// Fail marks a job as terminally failed with the reason provided. Unlike
// Complete this does not require artifact results, and is used for dispatch
// failures and retry exhaustion where no artifacts were ever attempted.
func (store *Store) Fail(db database.Queryable, id uuid.UUID, reason string) error {
	return store.updateStatus(db, id, StatusFailed, reason)
}

// Requeue flips a running job back to queued so it can be redelivered.
// The compare-and-set mirrors Claim; a job which managed to complete
// between the staleness check and this call is left untouched.
func (store *Store) Requeue(db database.Queryable, id uuid.UUID) error {
	result, err := db.Exec(`
		UPDATE jobs SET status=$1, updated_at=current_timestamp
		WHERE id=$2 AND status=$3
	`, StatusQueued, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return ErrNotClaimable
	}

	return nil
}

// FindStale returns non-terminal jobs whose last update is older than the
// duration provided: running jobs whose worker has presumably crashed
// mid-execution, and queued jobs whose queue delivery was lost (e.g. a
// re-publish that failed after a requeue). Both are eligible for
// redelivery.
func (store *Store) FindStale(db database.Queryable, olderThan time.Duration) ([]*Job, error) {
	query, args, err := selectJobBuilder().
		Where(squirrel.Eq{"status": []Status{StatusQueued, StatusRunning}}).
		Where(squirrel.Expr("updated_at < current_timestamp - ?::interval", fmt.Sprintf("%d seconds", int(olderThan.Seconds())))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct stale jobs query: %w", err)
	}

	var models []jobModel
	if err := db.Select(&models, query, args...); err != nil {
		return nil, err
	}

	jobs := make([]*Job, len(models))
	for k := range models {
		jobs[k] = newJobFromModels(&models[k], nil)
	}

	return jobs, nil
}

// Delete removes a terminal job (and, via cascade, its artifact results).
// Jobs which are queued or running cannot be deleted as a worker may still
// be executing them.
func (store *Store) Delete(db database.Queryable, id uuid.UUID) error {
	result, err := db.Exec(`
		DELETE FROM jobs WHERE id=$1 AND status = ANY($2)
	`, id, pq.Array(statusArray(StatusSucceeded, StatusFailed, StatusPartialSuccess)))
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		// Either the job does not exist, or it's not terminal yet.
		if _, err := store.Get(db, id); err != nil {
			return err
		}

		return ErrNotTerminal
	}

	return nil
}

func (store *Store) updateStatus(db database.Queryable, id uuid.UUID, status Status, reason string) error {
	failureReason := sql.NullString{String: reason, Valid: reason != ""}
	result, err := db.Exec(`
		UPDATE jobs SET status=$1, failure_reason=$2, updated_at=current_timestamp WHERE id=$3
	`, status, failureReason, id)
	if err != nil {
		return fmt.Errorf("failed to update status of job %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return ErrJobNotFound
	}

	log.Emit(logger.DEBUG, "Job %s transitioned to status %s\n", id, status)
	return nil
}

func newJobFromModels(model *jobModel, artifacts []artifactModel) *Job {
	results := make([]ArtifactResult, len(artifacts))
	for k, a := range artifacts {
		results[k] = ArtifactResult{
			URL:         a.URL,
			Kind:        a.Kind,
			OutputPath:  a.OutputPath,
			Ok:          a.Ok,
			ErrorDetail: a.ErrorDetail,
		}
	}

	var urls []string
	if u := model.URLs.Get(); u != nil {
		urls = *u
	}

	var langs []string
	if l := model.SubtitleLangs.Get(); l != nil {
		langs = *l
	}

	return &Job{
		ID:   model.ID,
		URLs: urls,
		Artifacts: ArtifactRequest{
			Video:         model.WantVideo,
			Audio:         model.WantAudio,
			Subtitles:     model.WantSubtitles,
			SubtitleLangs: langs,
		},
		Status:        model.Status,
		Attempts:      model.Attempts,
		FailureReason: model.FailureReason.String,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
		Results:       results,
	}
}

func orEmpty(slice []string) []string {
	if slice == nil {
		return []string{}
	}

	return slice
}

func statusArray(statuses ...Status) []string {
	out := make([]string, len(statuses))
	for k, s := range statuses {
		out[k] = string(s)
	}

	return out
}
