package downloader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/go-chanassert"
	"github.com/jmoiron/sqlx"
	"github.com/riptide-app/riptide/internal/database"
	"github.com/riptide-app/riptide/internal/event"
	"github.com/riptide-app/riptide/internal/job"
	"github.com/riptide-app/riptide/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockDbManager struct{}

func (m *mockDbManager) Connect(database.DatabaseConfig) error { return nil }
func (m *mockDbManager) GetSqlxDb() *sqlx.DB                   { return nil }
func (m *mockDbManager) WrapTx(f func(*sqlx.Tx) error) error   { return f(nil) }

type mockJobStore struct{ mock.Mock }

func (m *mockJobStore) Get(db database.Queryable, id uuid.UUID) (*job.Job, error) {
	args := m.Called(db, id)
	if found := args.Get(0); found != nil {
		return found.(*job.Job), args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *mockJobStore) Claim(db database.Queryable, id uuid.UUID) error {
	return m.Called(db, id).Error(0)
}

func (m *mockJobStore) Complete(tx *sqlx.Tx, id uuid.UUID, status job.Status, reason string, results []job.ArtifactResult) error {
	return m.Called(tx, id, status, reason, results).Error(0)
}

func (m *mockJobStore) Fail(db database.Queryable, id uuid.UUID, reason string) error {
	return m.Called(db, id, reason).Error(0)
}

func (m *mockJobStore) Requeue(db database.Queryable, id uuid.UUID) error {
	return m.Called(db, id).Error(0)
}

func (m *mockJobStore) FindStale(db database.Queryable, olderThan time.Duration) ([]*job.Job, error) {
	args := m.Called(db, olderThan)
	if stale := args.Get(0); stale != nil {
		return stale.([]*job.Job), args.Error(1)
	}

	return nil, args.Error(1)
}

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) ExecuteJob(ctx context.Context, j *job.Job) []job.ArtifactResult {
	args := m.Called(ctx, j)
	return args.Get(0).([]job.ArtifactResult)
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Dispatch(msg *queue.Message) error {
	return m.Called(msg).Error(0)
}

// stubConsumer captures the handler given to Subscribe so tests can inject
// queue deliveries directly.
type stubConsumer struct {
	lock    sync.Mutex
	handler func(msg *queue.Message)
}

func (c *stubConsumer) Subscribe(handler func(msg *queue.Message)) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.handler = handler
	return nil
}

func (c *stubConsumer) Deliver(t *testing.T, msg *queue.Message) {
	assert.Eventually(t, func() bool {
		c.lock.Lock()
		defer c.lock.Unlock()
		return c.handler != nil
	}, time.Second, 10*time.Millisecond, "service never subscribed to the queue")

	c.handler(msg)
}

func testServiceConfig() Config {
	return Config{
		DownloadParallelism: 1,
		MaxJobRuntime:       time.Minute,
		VisibilityTimeout:   time.Minute,
		RetrySweepInterval:  time.Hour,
		MaxAttempts:         3,
	}
}

func startService(t *testing.T, service *downloadService) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, service.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func matchJobEvent(expected event.Event, id uuid.UUID) chanassert.Matcher[event.HandlerEvent] {
	return chanassert.MatchPredicate(func(ev event.HandlerEvent) bool {
		return ev.Event == expected && ev.Payload == id
	})
}

func Test_Service_DeliveryRunsJobToCompletion(t *testing.T) {
	t.Parallel()

	claimed := job.New([]string{"https://example.com/a"}, job.ArtifactRequest{Video: true})
	results := []job.ArtifactResult{{URL: claimed.URLs[0], Kind: job.KindVideo, OutputPath: "download/x/y/video.mp4", Ok: true}}

	store := &mockJobStore{}
	store.On("Claim", mock.Anything, claimed.ID).Return(nil).Once()
	store.On("Get", mock.Anything, claimed.ID).Return(claimed, nil).Once()
	store.On("Complete", mock.Anything, claimed.ID, job.StatusSucceeded, "", results).Return(nil).Once()

	executor := &mockExecutor{}
	executor.On("ExecuteJob", mock.Anything, claimed).Return(results).Once()

	bus := event.New()
	events := make(event.HandlerChannel, 10)
	bus.RegisterHandlerChannel(events, event.JOB_UPDATE, event.ARTIFACT_COMPLETE, event.JOB_COMPLETE)
	expecter := chanassert.NewChannelExpecter(chan event.HandlerEvent(events)).Expect(
		chanassert.AllOf(
			matchJobEvent(event.JOB_UPDATE, claimed.ID),
			matchJobEvent(event.ARTIFACT_COMPLETE, claimed.ID),
			matchJobEvent(event.JOB_COMPLETE, claimed.ID),
		),
	)
	expecter.Listen()

	consumer := &stubConsumer{}
	service := NewService(testServiceConfig(), &mockDbManager{}, store, executor, consumer, &mockDispatcher{}, bus)
	startService(t, service)

	consumer.Deliver(t, queue.NewMessage(claimed))

	// The completion event is dispatched only after the terminal status is
	// committed, so once the expecter is satisfied every mock call is in.
	expecter.AssertSatisfied(t, 2*time.Second)
	store.AssertExpectations(t)
	executor.AssertExpectations(t)
}

func Test_Service_DuplicateDeliveryDropped(t *testing.T) {
	t.Parallel()

	claimed := job.New([]string{"https://example.com/a"}, job.ArtifactRequest{Audio: true})

	claims := make(chan struct{}, 2)
	store := &mockJobStore{}
	store.On("Claim", mock.Anything, claimed.ID).
		Run(func(mock.Arguments) { claims <- struct{}{} }).
		Return(job.ErrNotClaimable).
		Twice()

	executor := &mockExecutor{}
	consumer := &stubConsumer{}
	service := NewService(testServiceConfig(), &mockDbManager{}, store, executor, consumer, &mockDispatcher{}, event.New())
	startService(t, service)

	consumer.Deliver(t, queue.NewMessage(claimed))
	consumer.Deliver(t, queue.NewMessage(claimed))

	for i := 0; i < 2; i++ {
		select {
		case <-claims:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery to be claimed")
		}
	}

	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	executor.AssertNotCalled(t, "ExecuteJob", mock.Anything, mock.Anything)
}

func Test_Service_StaleSweepRequeuesAndRepublishes(t *testing.T) {
	t.Parallel()

	stale := job.New([]string{"https://example.com/a"}, job.ArtifactRequest{Video: true})
	stale.Status = job.StatusRunning
	stale.Attempts = 1

	store := &mockJobStore{}
	store.On("FindStale", mock.Anything, time.Minute).Return([]*job.Job{stale}, nil).Once()
	store.On("Requeue", mock.Anything, stale.ID).Return(nil).Once()

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.MatchedBy(func(msg *queue.Message) bool {
		return msg.JobID == stale.ID
	})).Return(nil).Once()

	service := NewService(testServiceConfig(), &mockDbManager{}, store, &mockExecutor{}, &stubConsumer{}, dispatcher, event.New())
	service.sweepStaleJobs()

	store.AssertExpectations(t)
	dispatcher.AssertExpectations(t)
}

func Test_Service_StaleSweepRedispatchesLostQueuedJobs(t *testing.T) {
	t.Parallel()

	// A queued job with no delivery in flight (a re-publish failed on an
	// earlier sweep) must be re-published without a requeue transition.
	lost := job.New([]string{"https://example.com/a"}, job.ArtifactRequest{Video: true})
	lost.Attempts = 1

	store := &mockJobStore{}
	store.On("FindStale", mock.Anything, time.Minute).Return([]*job.Job{lost}, nil).Once()

	dispatcher := &mockDispatcher{}
	dispatcher.On("Dispatch", mock.MatchedBy(func(msg *queue.Message) bool {
		return msg.JobID == lost.ID
	})).Return(nil).Once()

	service := NewService(testServiceConfig(), &mockDbManager{}, store, &mockExecutor{}, &stubConsumer{}, dispatcher, event.New())
	service.sweepStaleJobs()

	store.AssertNotCalled(t, "Requeue", mock.Anything, mock.Anything)
	dispatcher.AssertExpectations(t)
}

func Test_Service_ShutdownLeavesInFlightJobForRedelivery(t *testing.T) {
	t.Parallel()

	claimed := job.New([]string{"https://example.com/a"}, job.ArtifactRequest{Video: true})

	store := &mockJobStore{}
	store.On("Claim", mock.Anything, claimed.ID).Return(nil).Once()
	store.On("Get", mock.Anything, claimed.ID).Return(claimed, nil).Once()

	// The executor cancels the run context mid-download, simulating a
	// shutdown arriving while the job is in flight. The aborted results
	// must not be committed as a terminal outcome.
	ctx, cancel := context.WithCancel(context.Background())
	executor := &mockExecutor{}
	executor.On("ExecuteJob", mock.Anything, claimed).
		Run(func(mock.Arguments) { cancel() }).
		Return([]job.ArtifactResult{{URL: claimed.URLs[0], Kind: job.KindVideo, Ok: false, ErrorDetail: "max job runtime exceeded"}}).
		Once()

	consumer := &stubConsumer{}
	service := NewService(testServiceConfig(), &mockDbManager{}, store, executor, consumer, &mockDispatcher{}, event.New())

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, service.Run(ctx))
	}()

	consumer.Deliver(t, queue.NewMessage(claimed))
	wg.Wait()

	executor.AssertExpectations(t)
	store.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_Service_SweepTickWakesIdleWorkers(t *testing.T) {
	t.Parallel()

	pending := job.New([]string{"https://example.com/a"}, job.ArtifactRequest{Video: true})

	claims := make(chan struct{}, 1)
	store := &mockJobStore{}
	store.On("FindStale", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("Claim", mock.Anything, pending.ID).
		Run(func(mock.Arguments) { claims <- struct{}{} }).
		Return(job.ErrNotClaimable)

	config := testServiceConfig()
	config.RetrySweepInterval = 10 * time.Millisecond
	service := NewService(config, &mockDbManager{}, store, &mockExecutor{}, &stubConsumer{}, &mockDispatcher{}, event.New())
	startService(t, service)

	// Let the workers drain their startup pass and go back to sleep.
	time.Sleep(50 * time.Millisecond)

	// Slip work in without a wakeup, modelling a delivery landing between
	// a worker finding no work and it blocking on its wakeup channel. The
	// sweep tick is what must get it picked up.
	service.Lock()
	service.pending = append(service.pending, pending.ID)
	service.Unlock()

	select {
	case <-claims:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sweep tick to wake an idle worker")
	}
}

func Test_Service_StaleSweepFailsExhaustedJobs(t *testing.T) {
	t.Parallel()

	exhausted := job.New([]string{"https://example.com/a"}, job.ArtifactRequest{Video: true})
	exhausted.Status = job.StatusRunning
	exhausted.Attempts = 3

	store := &mockJobStore{}
	store.On("FindStale", mock.Anything, time.Minute).Return([]*job.Job{exhausted}, nil).Once()
	store.On("Fail", mock.Anything, exhausted.ID, "max retries exceeded").Return(nil).Once()

	dispatcher := &mockDispatcher{}
	service := NewService(testServiceConfig(), &mockDbManager{}, store, &mockExecutor{}, &stubConsumer{}, dispatcher, event.New())
	service.sweepStaleJobs()

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Requeue", mock.Anything, mock.Anything)
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything)
}
