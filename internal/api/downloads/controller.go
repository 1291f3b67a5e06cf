package downloads

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/riptide-app/riptide/internal/extractor"
	"github.com/riptide-app/riptide/internal/job"
	"github.com/riptide-app/riptide/internal/queue"
)

const defaultListLimit = 50

type (
	// DownloadRequest is the payload for a single-URL submission.
	DownloadRequest struct {
		URL           string   `json:"url" validate:"required,url"`
		Video         bool     `json:"video"`
		Audio         bool     `json:"audio"`
		Subtitles     bool     `json:"subtitles"`
		SubtitleLangs []string `json:"subtitle_langs"`
	}

	// BatchRequest submits an ordered list of URLs sharing one set of
	// artifact flags. The batch is tracked as a single job with per-URL
	// artifact results.
	BatchRequest struct {
		URLs          []string `json:"urls" validate:"required,min=1,dive,required,url"`
		Video         bool     `json:"video"`
		Audio         bool     `json:"audio"`
		Subtitles     bool     `json:"subtitles"`
		SubtitleLangs []string `json:"subtitle_langs"`
	}

	InfoRequest struct {
		URL string `json:"url" validate:"required,url"`
	}

	Service interface {
		Submit(urls []string, artifacts job.ArtifactRequest) (*job.Job, error)
		Job(id uuid.UUID) (*job.Job, error)
		Jobs(status job.Status, limit int) ([]*job.Job, error)
		Delete(id uuid.UUID) error
	}

	MetadataService interface {
		FetchMetadata(ctx context.Context, url string) (*extractor.Metadata, error)
	}

	// Controller defines the routes for job submission, inspection and
	// removal, plus the synchronous metadata endpoint.
	Controller struct {
		validate *validator.Validate
		service  Service
		metadata MetadataService
	}
)

func New(validate *validator.Validate, service Service, metadata MetadataService) *Controller {
	return &Controller{validate: validate, service: service, metadata: metadata}
}

// SetRoutes accepts the Echo group for the download endpoints and sets the
// routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/download/", controller.download)
	eg.POST("/batch/", controller.batch)
	eg.POST("/info/", controller.info)
	eg.GET("/task/:id/", controller.get)
	eg.DELETE("/task/:id/", controller.delete)
	eg.GET("/tasks/", controller.list)
	eg.GET("/health/", controller.health)
}

// download accepts a single URL submission, creating and dispatching a new
// job. Submitting the same URL again creates a new, independent job.
func (controller *Controller) download(ec echo.Context) error {
	var request DownloadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal")
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	artifacts := job.ArtifactRequest{
		Video:         request.Video,
		Audio:         request.Audio,
		Subtitles:     request.Subtitles,
		SubtitleLangs: request.SubtitleLangs,
	}

	return controller.submit(ec, []string{request.URL}, artifacts)
}

// batch accepts an ordered list of URLs and creates one job covering all
// of them.
func (controller *Controller) batch(ec echo.Context) error {
	var request BatchRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal")
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	artifacts := job.ArtifactRequest{
		Video:         request.Video,
		Audio:         request.Audio,
		Subtitles:     request.Subtitles,
		SubtitleLangs: request.SubtitleLangs,
	}

	return controller.submit(ec, request.URLs, artifacts)
}

func (controller *Controller) submit(ec echo.Context, urls []string, artifacts job.ArtifactRequest) error {
	if artifacts.Empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one of 'video', 'audio' or 'subtitles' must be requested")
	}

	submitted, err := controller.service.Submit(urls, artifacts)
	if err != nil {
		if errors.Is(err, queue.ErrPublishFailed) {
			return echo.NewHTTPError(http.StatusBadGateway, "job accepted but could not be queued for execution")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusAccepted, NewSubmissionDto(submitted))
}

// get uses the 'id' path param from the context and retrieves the job, with
// its artifact results, from the underlying service.
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	found, err := controller.service.Job(id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, NewJobDto(found))
}

// delete removes the record of a terminal job. Jobs still queued or running
// are refused with a conflict.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Task ID is not a valid UUID")
	}

	if err := controller.service.Delete(id); err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			return echo.NewHTTPError(http.StatusNotFound)
		case errors.Is(err, job.ErrNotTerminal):
			return echo.NewHTTPError(http.StatusConflict, "task is still queued or running and cannot be deleted")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return ec.NoContent(http.StatusOK)
}

// list returns jobs newest-first, optionally filtered with the 'status'
// query param and capped with 'limit'.
func (controller *Controller) list(ec echo.Context) error {
	status := job.Status(ec.QueryParam("status"))
	if status != "" && !validListStatus(status) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status filter")
	}

	limit := defaultListLimit
	if rawLimit := ec.QueryParam("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}

		limit = parsed
	}

	jobs, err := controller.service.Jobs(status, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dtos := make([]*JobDto, len(jobs))
	for k, v := range jobs {
		dtos[k] = NewJobDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// info synchronously fetches media metadata for a URL without creating a
// job. Failures from the extraction tool are mapped on to HTTP statuses by
// their kind.
func (controller *Controller) info(ec echo.Context) error {
	var request InfoRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal")
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	meta, err := controller.metadata.FetchMetadata(ec.Request().Context(), request.URL)
	if err != nil {
		var extractionErr *extractor.Error
		if errors.As(err, &extractionErr) {
			switch extractionErr.Kind {
			case extractor.UNSUPPORTED_URL:
				return echo.NewHTTPError(http.StatusBadRequest, extractionErr.Detail)
			case extractor.NETWORK:
				return echo.NewHTTPError(http.StatusBadGateway, extractionErr.Detail)
			}
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, meta)
}

// health is a static liveness check; it deliberately touches neither the
// database nor the queue.
func (controller *Controller) health(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func validListStatus(status job.Status) bool {
	switch status {
	case job.StatusQueued, job.StatusRunning, job.StatusPartialSuccess, job.StatusSucceeded, job.StatusFailed:
		return true
	default:
		return false
	}
}
