package downloader

import (
	"github.com/google/uuid"
	"github.com/riptide-app/riptide/internal/database"
	"github.com/riptide-app/riptide/internal/event"
	"github.com/riptide-app/riptide/internal/job"
	"github.com/riptide-app/riptide/internal/queue"
	"github.com/riptide-app/riptide/pkg/logger"
)

type (
	submitterStore interface {
		Create(db database.Queryable, j *job.Job) error
		Get(db database.Queryable, id uuid.UUID) (*job.Job, error)
		List(db database.Queryable, status job.Status, limit int) ([]*job.Job, error)
		Fail(db database.Queryable, id uuid.UUID, reason string) error
		Delete(db database.Queryable, id uuid.UUID) error
	}

	// Submitter is the write-side entry point used by the API: it persists
	// newly accepted jobs and publishes them for asynchronous execution.
	Submitter struct {
		db         database.Manager
		store      submitterStore
		dispatcher queue.Dispatcher
		eventBus   event.EventDispatcher
	}
)

func NewSubmitter(db database.Manager, store submitterStore, dispatcher queue.Dispatcher, eventBus event.EventDispatcher) *Submitter {
	return &Submitter{db: db, store: store, dispatcher: dispatcher, eventBus: eventBus}
}

// Submit persists a new queued job for the URLs provided and dispatches it
// to the queue. A dispatch failure fails the job immediately (nothing will
// ever deliver it) and is returned so the caller can surface it upstream.
// The job row is returned in the state it was left in.
func (submitter *Submitter) Submit(urls []string, artifacts job.ArtifactRequest) (*job.Job, error) {
	newJob := job.New(urls, artifacts)
	if err := submitter.store.Create(submitter.db.GetSqlxDb(), newJob); err != nil {
		return nil, err
	}

	log.Emit(logger.NEW, "Accepted %s\n", newJob)
	if err := submitter.dispatcher.Dispatch(queue.NewMessage(newJob)); err != nil {
		log.Emit(logger.ERROR, "Dispatch of job %s failed: %v\n", newJob.ID, err)
		if failErr := submitter.store.Fail(submitter.db.GetSqlxDb(), newJob.ID, "failed to dispatch job to queue"); failErr != nil {
			log.Emit(logger.ERROR, "Additionally failed to mark job %s as failed: %v\n", newJob.ID, failErr)
		}

		return nil, err
	}

	submitter.eventBus.Dispatch(event.JOB_UPDATE, newJob.ID)
	return newJob, nil
}

// Job fetches a single job, with its artifact results, by ID.
func (submitter *Submitter) Job(id uuid.UUID) (*job.Job, error) {
	return submitter.store.Get(submitter.db.GetSqlxDb(), id)
}

// Jobs lists jobs newest-first, optionally filtered by status.
func (submitter *Submitter) Jobs(status job.Status, limit int) ([]*job.Job, error) {
	return submitter.store.List(submitter.db.GetSqlxDb(), status, limit)
}

// Delete removes a terminal jobs record. Queued and running jobs are
// refused as a worker may still act on them.
func (submitter *Submitter) Delete(id uuid.UUID) error {
	return submitter.store.Delete(submitter.db.GetSqlxDb(), id)
}
