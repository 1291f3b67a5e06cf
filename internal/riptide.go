package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/riptide-app/riptide/internal/api"
	"github.com/riptide-app/riptide/internal/database"
	"github.com/riptide-app/riptide/internal/downloader"
	"github.com/riptide-app/riptide/internal/event"
	"github.com/riptide-app/riptide/internal/extractor"
	"github.com/riptide-app/riptide/internal/job"
	"github.com/riptide-app/riptide/internal/queue"
	"github.com/riptide-app/riptide/pkg/logger"
	"github.com/spf13/afero"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		BroadcastTaskUpdate(uuid.UUID) error
		BroadcastTaskComplete(uuid.UUID) error
	}
)

// riptideImpl represents the top-level object for the server, and is
// responsible for initialising the stores, services, queue connection and
// event handling, et cetera...
type riptideImpl struct {
	eventBus event.EventCoordinator
	config   RiptideConfig
	db       database.Manager
	store    *job.Store
}

func New(config RiptideConfig) *riptideImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Riptide services using config: %#v\n", config)
	return &riptideImpl{
		eventBus: event.New(),
		config:   config,
		db:       database.New(),
		store:    job.NewStore(),
	}
}

// Run will start all of Riptide by bringing up all required services and
// connections: the database (with migrations), the queue connection, the
// download worker service and the REST gateway.
//
// This function will not return until Riptide is stopped. To stop Riptide,
// the provided context must be cancelled. Errors from which Riptide cannot
// recover will also cause it to stop.
func (riptide *riptideImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := riptide.db.Connect(riptide.config.Database); err != nil {
		return err
	}

	log.Emit(logger.NEW, "Connecting to message queue...\n")
	queueClient, err := queue.Connect(riptide.config.Queue)
	if err != nil {
		return err
	}
	defer queueClient.Close()

	extractionClient := extractor.NewClient(riptide.config.Extractor)
	executor := downloader.NewExecutor(extractionClient, &riptide.config.Ffmpeg, afero.NewOsFs(), riptide.config.Downloads)
	downloadService := downloader.NewService(
		riptide.config.Downloads,
		riptide.db,
		riptide.store,
		executor,
		queueClient,
		queueClient,
		riptide.eventBus,
	)

	submitter := downloader.NewSubmitter(riptide.db, riptide.store, queueClient, riptide.eventBus)
	restGateway := api.NewRestGateway(&riptide.config.Rest, submitter, extractionClient, riptide.config.Downloads.OutputDir)
	riptide.registerBroadcasts(restGateway)

	wg := &sync.WaitGroup{}
	riptide.spawnAsyncService(ctx, wg, downloadService, "download-service", crashHandler)
	riptide.spawnAsyncService(ctx, wg, restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Riptide services spawned!\n")

	wg.Wait()
	return nil
}

// registerBroadcasts forwards job lifecycle events from the event bus to
// the websocket activity stream.
func (riptide *riptideImpl) registerBroadcasts(gateway RestGateway) {
	forward := func(label string, broadcast func(uuid.UUID) error) event.HandlerMethod {
		return func(ev event.Event, payload event.Payload) {
			if id, ok := payload.(uuid.UUID); ok {
				if err := broadcast(id); err != nil {
					log.Emit(logger.WARNING, "Failed to broadcast %s for job %s: %v\n", label, id, err)
				}
			}
		}
	}

	riptide.eventBus.RegisterAsyncHandlerFunction(event.JOB_UPDATE, forward("update", gateway.BroadcastTaskUpdate))
	riptide.eventBus.RegisterAsyncHandlerFunction(event.ARTIFACT_COMPLETE, forward("artifact progress", gateway.BroadcastTaskUpdate))
	riptide.eventBus.RegisterAsyncHandlerFunction(event.JOB_COMPLETE, forward("completion", gateway.BroadcastTaskComplete))
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Riptide service waitgroup is updated correctly
func (riptide *riptideImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
