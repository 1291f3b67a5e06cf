package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	Status string

	ArtifactKind string

	// ArtifactRequest captures which deliverables the submitter asked
	// for. At least one of the boolean flags must be set for a request
	// to be accepted. SubtitleLangs optionally restricts which subtitle
	// languages are fetched; when empty all available languages are
	// requested.
	ArtifactRequest struct {
		Video         bool     `json:"video"`
		Audio         bool     `json:"audio"`
		Subtitles     bool     `json:"subtitles"`
		SubtitleLangs []string `json:"subtitle_langs,omitempty"`
	}

	// ArtifactResult records the outcome of one artifact attempt for one
	// URL. OutputPath is relative to the configured output root, and is
	// only populated for successful attempts. Results are append-only;
	// once persisted alongside a terminal job status they never change.
	ArtifactResult struct {
		URL         string       `json:"url"`
		Kind        ArtifactKind `json:"artifact_kind"`
		OutputPath  string       `json:"output_path,omitempty"`
		Ok          bool         `json:"ok"`
		ErrorDetail string       `json:"error_detail,omitempty"`
	}

	// Job is one unit of submitted download work, tracked through its
	// lifecycle by the store. A job covers one or more URLs (batch
	// submissions create a single job spanning every URL in the batch).
	// Only the worker which successfully claimed a job may mutate it.
	Job struct {
		ID            uuid.UUID
		URLs          []string
		Artifacts     ArtifactRequest
		Status        Status
		Attempts      int
		FailureReason string
		CreatedAt     time.Time
		UpdatedAt     time.Time
		Results       []ArtifactResult
	}
)

const (
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusPartialSuccess Status = "partial_success"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"

	KindVideo     ArtifactKind = "video"
	KindAudio     ArtifactKind = "audio"
	KindSubtitles ArtifactKind = "subtitles"
)

var (
	ErrJobNotFound  = errors.New("no job could be found")
	ErrNotClaimable = errors.New("job cannot be claimed as it is not queued")
	ErrNotTerminal  = errors.New("job has not reached a terminal status")
)

// New constructs a queued job for the URLs and artifact request provided.
func New(urls []string, artifacts ArtifactRequest) *Job {
	return &Job{
		ID:        uuid.New(),
		URLs:      urls,
		Artifacts: artifacts,
		Status:    StatusQueued,
		Results:   make([]ArtifactResult, 0),
	}
}

// Terminal reports whether the status is final. Jobs in a terminal
// status see no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusPartialSuccess
}

// Kinds returns the requested artifact kinds in their canonical order.
func (r ArtifactRequest) Kinds() []ArtifactKind {
	kinds := make([]ArtifactKind, 0, 3)
	if r.Video {
		kinds = append(kinds, KindVideo)
	}
	if r.Audio {
		kinds = append(kinds, KindAudio)
	}
	if r.Subtitles {
		kinds = append(kinds, KindSubtitles)
	}

	return kinds
}

// Empty reports whether no artifact kind was requested at all.
func (r ArtifactRequest) Empty() bool {
	return !r.Video && !r.Audio && !r.Subtitles
}

// AggregateStatus derives the terminal status for a job from the results of
// every attempted artifact: all ok means succeeded, none ok means failed,
// and a mix of the two means partial_success.
func AggregateStatus(results []ArtifactResult) Status {
	succeeded, failed := 0, 0
	for _, res := range results {
		if res.Ok {
			succeeded++
		} else {
			failed++
		}
	}

	switch {
	case failed == 0:
		return StatusSucceeded
	case succeeded == 0:
		return StatusFailed
	default:
		return StatusPartialSuccess
	}
}

func (job *Job) String() string {
	return fmt.Sprintf("Job{ID=%s urls=%d status=%s attempts=%d}", job.ID, len(job.URLs), job.Status, job.Attempts)
}
