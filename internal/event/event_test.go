package event_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riptide-app/riptide/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Dispatch_SynchronousHandlerRunsInline(t *testing.T) {
	t.Parallel()

	bus := event.New()
	payload := uuid.New()

	var received []event.HandlerEvent
	bus.RegisterHandlerFunction(event.JOB_UPDATE, func(ev event.Event, p event.Payload) {
		received = append(received, event.HandlerEvent{Event: ev, Payload: p})
	})

	bus.Dispatch(event.JOB_UPDATE, payload)

	// Synchronous handlers complete before Dispatch returns, so no
	// synchronisation is needed here.
	require.Len(t, received, 1)
	assert.Equal(t, event.JOB_UPDATE, received[0].Event)
	assert.Equal(t, payload, received[0].Payload)
}

func Test_Dispatch_AsyncHandlerRunsEventually(t *testing.T) {
	t.Parallel()

	bus := event.New()
	payload := uuid.New()

	received := make(chan event.Payload, 1)
	bus.RegisterAsyncHandlerFunction(event.JOB_COMPLETE, func(_ event.Event, p event.Payload) {
		received <- p
	})

	bus.Dispatch(event.JOB_COMPLETE, payload)

	select {
	case p := <-received:
		assert.Equal(t, payload, p)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async handler to run")
	}
}

func Test_Dispatch_ChannelHandlerReceivesMultipleEvents(t *testing.T) {
	t.Parallel()

	bus := event.New()
	channel := make(event.HandlerChannel, 2)
	bus.RegisterHandlerChannel(channel, event.JOB_UPDATE, event.JOB_COMPLETE)

	updateID, completeID := uuid.New(), uuid.New()
	bus.Dispatch(event.JOB_UPDATE, updateID)
	bus.Dispatch(event.JOB_COMPLETE, completeID)

	assert.Equal(t, event.HandlerEvent{Event: event.JOB_UPDATE, Payload: updateID}, <-channel)
	assert.Equal(t, event.HandlerEvent{Event: event.JOB_COMPLETE, Payload: completeID}, <-channel)
}

func Test_Dispatch_UnregisteredEventIsNoOp(t *testing.T) {
	t.Parallel()

	bus := event.New()
	channel := make(event.HandlerChannel, 1)
	bus.RegisterHandlerChannel(channel, event.JOB_COMPLETE)

	bus.Dispatch(event.JOB_UPDATE, uuid.New())
	assert.Empty(t, channel)
}

func Test_Dispatch_RejectsIllegalPayload(t *testing.T) {
	t.Parallel()

	bus := event.New()
	channel := make(event.HandlerChannel, 1)
	bus.RegisterHandlerChannel(channel, event.JOB_UPDATE)

	// Payloads for job events must be the jobs ID; anything else is
	// swallowed by validation rather than delivered.
	bus.Dispatch(event.JOB_UPDATE, "not-a-uuid")
	assert.Empty(t, channel)
}

func Test_Dispatch_FansOutToAllHandlerKinds(t *testing.T) {
	t.Parallel()

	bus := event.New()
	payload := uuid.New()

	var lock sync.Mutex
	syncCalls := 0
	bus.RegisterHandlerFunction(event.ARTIFACT_COMPLETE, func(event.Event, event.Payload) {
		lock.Lock()
		defer lock.Unlock()
		syncCalls++
	})

	channel := make(event.HandlerChannel, 1)
	bus.RegisterHandlerChannel(channel, event.ARTIFACT_COMPLETE)

	bus.Dispatch(event.ARTIFACT_COMPLETE, payload)

	lock.Lock()
	assert.Equal(t, 1, syncCalls)
	lock.Unlock()
	assert.Equal(t, event.HandlerEvent{Event: event.ARTIFACT_COMPLETE, Payload: payload}, <-channel)
}
