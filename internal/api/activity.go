package api

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/riptide-app/riptide/internal/api/downloads"
	"github.com/riptide-app/riptide/internal/http/websocket"
	"github.com/riptide-app/riptide/pkg/logger"
)

const (
	TITLE_TASK_UPDATE   = "TASK_UPDATE"
	TITLE_TASK_COMPLETE = "TASK_COMPLETE"
)

type (
	TaskUpdate struct {
		TaskID uuid.UUID         `json:"task_id"`
		Task   *downloads.JobDto `json:"task"`
	}

	taskStatusArgs struct {
		TaskID string `mapstructure:"task_id"`
	}

	// broadcaster pushes job lifecycle updates to every connected
	// websocket client.
	broadcaster struct {
		socketHub *websocket.SocketHub
		service   downloads.Service
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, service downloads.Service) *broadcaster {
	return &broadcaster{socketHub: socketHub, service: service}
}

// BroadcastTaskUpdate pushes the current state of the job provided to all
// connected clients.
func (hub *broadcaster) BroadcastTaskUpdate(id uuid.UUID) error {
	model, err := hub.service.Job(id)
	if err != nil {
		return err
	}

	hub.broadcast(TITLE_TASK_UPDATE, TaskUpdate{TaskID: id, Task: downloads.NewJobDto(model)})
	return nil
}

// BroadcastTaskComplete pushes the terminal state of the job provided,
// including its artifact results, to all connected clients.
func (hub *broadcaster) BroadcastTaskComplete(id uuid.UUID) error {
	model, err := hub.service.Job(id)
	if err != nil {
		return err
	}

	hub.broadcast(TITLE_TASK_COMPLETE, TaskUpdate{TaskID: id, Task: downloads.NewJobDto(model)})
	return nil
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}

// connectionPayload furnishes a freshly connected client with a snapshot of
// the most recent tasks so it need not wait for the next update packet.
func (gateway *RestGateway) connectionPayload() map[string]interface{} {
	models, err := gateway.service.Jobs("", 50)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to build connection payload: %v\n", err)
		return map[string]interface{}{"tasks": []*downloads.JobDto{}}
	}

	dtos := make([]*downloads.JobDto, len(models))
	for k, v := range models {
		dtos[k] = downloads.NewJobDto(v)
	}

	return map[string]interface{}{"tasks": dtos}
}

// wsTaskStatus is the socket command allowing a client to request the
// current state of one task over the activity stream.
func (gateway *RestGateway) wsTaskStatus(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	if err := message.ValidateArguments(map[string]string{"task_id": "string"}); err != nil {
		return err
	}

	var args taskStatusArgs
	if err := mapstructure.Decode(message.Body, &args); err != nil {
		return fmt.Errorf("failed to decode command arguments: %w", err)
	}

	id, err := uuid.Parse(args.TaskID)
	if err != nil {
		return fmt.Errorf("task_id is not a valid UUID")
	}

	model, err := gateway.service.Job(id)
	if err != nil {
		return err
	}

	hub.Send(message.FormReply(
		"TASK_STATUS",
		map[string]interface{}{"task": downloads.NewJobDto(model)},
		websocket.Response,
	))
	return nil
}
