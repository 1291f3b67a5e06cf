package downloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/riptide-app/riptide/internal/job"
	"github.com/samber/lo"
)

type (
	// SubmissionDto is the acceptance payload returned for new submissions.
	SubmissionDto struct {
		ID     uuid.UUID  `json:"task_id"`
		Status job.Status `json:"status"`
	}

	ArtifactResultDto struct {
		URL         string `json:"url"`
		Kind        string `json:"artifact_kind"`
		OutputPath  string `json:"output_path,omitempty"`
		Ok          bool   `json:"ok"`
		ErrorDetail string `json:"error_detail,omitempty"`
	}

	// JobDto is the response used by endpoints which return tracked jobs
	// (e.g., task get, tasks list).
	JobDto struct {
		ID            uuid.UUID           `json:"task_id"`
		URLs          []string            `json:"urls"`
		Artifacts     job.ArtifactRequest `json:"artifacts"`
		Status        job.Status          `json:"status"`
		Attempts      int                 `json:"attempts"`
		FailureReason string              `json:"failure_reason,omitempty"`
		CreatedAt     time.Time           `json:"created_at"`
		UpdatedAt     time.Time           `json:"updated_at"`
		Results       []ArtifactResultDto `json:"results"`
	}
)

func NewSubmissionDto(model *job.Job) *SubmissionDto {
	return &SubmissionDto{ID: model.ID, Status: model.Status}
}

// NewJobDto creates a JobDto using the Job model.
func NewJobDto(model *job.Job) *JobDto {
	return &JobDto{
		ID:            model.ID,
		URLs:          model.URLs,
		Artifacts:     model.Artifacts,
		Status:        model.Status,
		Attempts:      model.Attempts,
		FailureReason: model.FailureReason,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
		Results: lo.Map(model.Results, func(result job.ArtifactResult, _ int) ArtifactResultDto {
			return ArtifactResultDto{
				URL:         result.URL,
				Kind:        string(result.Kind),
				OutputPath:  result.OutputPath,
				Ok:          result.Ok,
				ErrorDetail: result.ErrorDetail,
			}
		}),
	}
}
