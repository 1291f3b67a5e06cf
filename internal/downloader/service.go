package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/riptide-app/riptide/internal/database"
	"github.com/riptide-app/riptide/internal/event"
	"github.com/riptide-app/riptide/internal/job"
	"github.com/riptide-app/riptide/internal/queue"
	"github.com/riptide-app/riptide/pkg/logger"
	"github.com/riptide-app/riptide/pkg/worker"
)

var log = logger.Get("DownloadServ")

type (
	jobStore interface {
		Get(db database.Queryable, id uuid.UUID) (*job.Job, error)
		Claim(db database.Queryable, id uuid.UUID) error
		Complete(tx *sqlx.Tx, id uuid.UUID, status job.Status, reason string, results []job.ArtifactResult) error
		Fail(db database.Queryable, id uuid.UUID, reason string) error
		Requeue(db database.Queryable, id uuid.UUID) error
		FindStale(db database.Queryable, olderThan time.Duration) ([]*job.Job, error)
	}

	jobExecutor interface {
		ExecuteJob(ctx context.Context, j *job.Job) []job.ArtifactResult
	}

	// downloadService consumes dispatched jobs from the queue and executes
	// them on a pool of download workers. It also owns the stale-job sweep
	// which redelivers (or terminally fails) jobs whose worker died
	// mid-download.
	downloadService struct {
		*sync.Mutex

		db         database.Manager
		store      jobStore
		executor   jobExecutor
		consumer   queue.Consumer
		dispatcher queue.Dispatcher
		eventBus   event.EventDispatcher

		config     Config
		pending    []uuid.UUID
		workerPool worker.WorkerPool
		runCtx     context.Context
	}
)

func NewService(
	config Config,
	db database.Manager,
	store jobStore,
	executor jobExecutor,
	consumer queue.Consumer,
	dispatcher queue.Dispatcher,
	eventBus event.EventDispatcher,
) *downloadService {
	service := &downloadService{
		Mutex:      &sync.Mutex{},
		db:         db,
		store:      store,
		executor:   executor,
		consumer:   consumer,
		dispatcher: dispatcher,
		eventBus:   eventBus,
		config:     config,
		pending:    make([]uuid.UUID, 0),
		workerPool: *worker.NewWorkerPool(),
	}

	for i := 0; i < config.DownloadParallelism; i++ {
		label := fmt.Sprintf("download-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.ExecuteTask))
	}

	return service
}

// Run subscribes to the job queue and blocks, waking the worker pool as
// deliveries arrive and periodically sweeping for stale jobs. Cancelling
// the context provided stops the service; in-flight downloads are
// abandoned and will be redelivered by another sweep.
func (service *downloadService) Run(ctx context.Context) error {
	service.runCtx = ctx
	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start download worker pool: %w", err)
	}
	defer service.workerPool.Close()

	deliveries := make(chan *queue.Message, 64)
	if err := service.consumer.Subscribe(func(msg *queue.Message) { deliveries <- msg }); err != nil {
		return err
	}

	sweepTicker := time.NewTicker(service.config.RetrySweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case msg := <-deliveries:
			service.enqueuePending(msg.JobID)
		case <-sweepTicker.C:
			service.sweepStaleJobs()

			// A delivery which arrived between a worker finding no work
			// and that worker blocking on its wakeup channel is stranded
			// until the next wakeup; the sweep tick doubles as that wakeup.
			service.workerPool.WakeupWorkers()
		case <-ctx.Done():
			return nil
		}
	}
}

// ExecuteTask is the worker function for the download service, called by
// the services WorkerPool. It pops one pending job, claims it against the
// store and runs it to a terminal status. Returns false when no pending
// work remains, sending the worker back to sleep.
func (service *downloadService) ExecuteTask(w worker.Worker) (bool, error) {
	id, ok := service.popPendingJob()
	if !ok {
		return false, nil
	}

	if err := service.store.Claim(service.db.GetSqlxDb(), id); err != nil {
		if errors.Is(err, job.ErrNotClaimable) || errors.Is(err, job.ErrJobNotFound) {
			// Redelivered duplicate, or a job deleted before execution.
			log.Emit(logger.DEBUG, "Dropping delivery for job %s: %v\n", id, err)
			return true, nil
		}

		return false, err
	}

	service.eventBus.Dispatch(event.JOB_UPDATE, id)
	service.executeJob(id)
	return true, nil
}

func (service *downloadService) executeJob(id uuid.UUID) {
	db := service.db.GetSqlxDb()
	claimed, err := service.store.Get(db, id)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to load claimed job %s: %v\n", id, err)
		return
	}

	log.Emit(logger.INFO, "Executing %s\n", claimed)
	results := service.executor.ExecuteJob(service.runCtx, claimed)
	if service.runCtx.Err() != nil {
		// Shutdown mid-download. The aborted results must not be recorded
		// as a terminal outcome; leaving the job running lets the stale
		// sweep requeue it for a fresh attempt.
		log.Emit(logger.WARNING, "Abandoning job %s due to shutdown, it will be redelivered\n", id)
		return
	}

	status := job.AggregateStatus(results)
	reason := ""
	if status == job.StatusFailed {
		reason = "all artifact downloads failed"
	}

	err = service.db.WrapTx(func(tx *sqlx.Tx) error {
		return service.store.Complete(tx, id, status, reason, results)
	})
	if err != nil {
		log.Emit(logger.ERROR, "Failed to record completion of job %s: %v\n", id, err)
		return
	}

	log.Emit(logger.SUCCESS, "Job %s finished with status %s\n", id, status)
	for range results {
		service.eventBus.Dispatch(event.ARTIFACT_COMPLETE, id)
	}
	service.eventBus.Dispatch(event.JOB_COMPLETE, id)
}

// sweepStaleJobs finds non-terminal jobs which have outlived the visibility
// timeout: abandoned running jobs are re-queued and re-published for another
// attempt, queued jobs whose delivery was lost (e.g. a failed re-publish on
// an earlier sweep) are re-published as-is, and jobs whose attempts are
// exhausted are failed terminally.
func (service *downloadService) sweepStaleJobs() {
	db := service.db.GetSqlxDb()
	stale, err := service.store.FindStale(db, service.config.VisibilityTimeout)
	if err != nil {
		log.Emit(logger.ERROR, "Stale job sweep failed: %v\n", err)
		return
	}

	for _, staleJob := range stale {
		if staleJob.Attempts >= service.config.MaxAttempts {
			log.Emit(logger.WARNING, "Job %s exhausted its %d attempts, failing\n", staleJob.ID, service.config.MaxAttempts)
			if err := service.store.Fail(db, staleJob.ID, "max retries exceeded"); err != nil {
				log.Emit(logger.ERROR, "Failed to fail exhausted job %s: %v\n", staleJob.ID, err)
				continue
			}

			service.eventBus.Dispatch(event.JOB_COMPLETE, staleJob.ID)
			continue
		}

		if staleJob.Status == job.StatusRunning {
			log.Emit(logger.WARNING, "Job %s looks abandoned (attempt %d), re-queueing\n", staleJob.ID, staleJob.Attempts)
			if err := service.store.Requeue(db, staleJob.ID); err != nil {
				if !errors.Is(err, job.ErrNotClaimable) {
					log.Emit(logger.ERROR, "Failed to requeue stale job %s: %v\n", staleJob.ID, err)
				}

				continue
			}

			service.eventBus.Dispatch(event.JOB_UPDATE, staleJob.ID)
		} else {
			log.Emit(logger.WARNING, "Job %s is queued with no delivery in flight, re-publishing\n", staleJob.ID)
		}

		// A failed publish is recoverable: the job is still queued and
		// stale, so the next sweep finds it again and retries the publish.
		if err := service.dispatcher.Dispatch(queue.NewMessage(staleJob)); err != nil {
			log.Emit(logger.ERROR, "Failed to re-publish stale job %s: %v\n", staleJob.ID, err)
		}
	}
}

// enqueuePending appends the job ID to the pending list and wakes the
// worker pool.
//
// Note: This function takes ownership of the mutex, and releases it when returning
func (service *downloadService) enqueuePending(id uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	service.pending = append(service.pending, id)
	service.workerPool.WakeupWorkers()
}

// popPendingJob removes and returns the oldest pending job ID, so that no
// other worker can pick it up once the mutex lock is released.
//
// Note: This function takes ownership of the mutex, and releases it when returning
func (service *downloadService) popPendingJob() (uuid.UUID, bool) {
	service.Lock()
	defer service.Unlock()

	if len(service.pending) == 0 {
		return uuid.Nil, false
	}

	id := service.pending[0]
	service.pending = service.pending[1:]
	return id, true
}
