package queue

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/riptide-app/riptide/pkg/logger"
)

var (
	log = logger.Get("Queue")

	// ErrPublishFailed wraps every dispatch failure so callers can map it
	// to an upstream error response without inspecting NATS internals.
	ErrPublishFailed = errors.New("job could not be published to the queue")
)

type (
	Config struct {
		// URL of the NATS server (e.g. nats://localhost:4222).
		URL string `yaml:"url" env:"QUEUE_URL" env-default:"nats://localhost:4222"`

		// Subject jobs are published on.
		Subject string `yaml:"subject" env:"QUEUE_SUBJECT" env-default:"riptide.jobs"`

		// QueueGroup shared by every consumer; NATS delivers each message
		// to exactly one member of the group.
		QueueGroup string `yaml:"queue_group" env:"QUEUE_GROUP" env-default:"riptide-workers"`
	}

	// Dispatcher publishes job messages for asynchronous execution.
	Dispatcher interface {
		Dispatch(msg *Message) error
	}

	// Consumer delivers dispatched job messages, one at a time, to the
	// handler provided to Subscribe.
	Consumer interface {
		Subscribe(handler func(msg *Message)) error
	}

	natsClient struct {
		config Config
		conn   *nats.Conn
		sub    *nats.Subscription
	}
)

// Connect establishes the NATS connection used for both dispatch and
// consumption. The returned client must be closed once the service stops.
func Connect(config Config) (*natsClient, error) {
	conn, err := nats.Connect(config.URL, nats.Name("riptide"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to queue at %s: %w", config.URL, err)
	}

	log.Emit(logger.INFO, "Connected to message queue at %s\n", config.URL)
	return &natsClient{config: config, conn: conn}, nil
}

// Dispatch publishes the message on the configured subject. Any failure is
// returned to the caller so the job can be failed synchronously rather than
// sitting queued with no delivery ever coming.
func (client *natsClient) Dispatch(msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	if err := client.conn.Publish(client.config.Subject, data); err != nil {
		return fmt.Errorf("%w: job %s: %v", ErrPublishFailed, msg.JobID, err)
	}

	log.Emit(logger.DEBUG, "Dispatched job %s on subject %s\n", msg.JobID, client.config.Subject)
	return nil
}

// Subscribe joins the worker queue group on the configured subject. Each
// message is decoded before hand-off; messages which fail to decode are
// logged and dropped as redelivering them could never succeed.
func (client *natsClient) Subscribe(handler func(msg *Message)) error {
	sub, err := client.conn.QueueSubscribe(client.config.Subject, client.config.QueueGroup, func(raw *nats.Msg) {
		msg, err := DecodeMessage(raw.Data)
		if err != nil {
			log.Emit(logger.ERROR, "Discarding malformed queue message: %v\n", err)
			return
		}

		handler(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", client.config.Subject, err)
	}

	client.sub = sub
	log.Emit(logger.INFO, "Consuming jobs from subject %s (group %s)\n", client.config.Subject, client.config.QueueGroup)
	return nil
}

func (client *natsClient) Close() {
	if client.sub != nil {
		if err := client.sub.Unsubscribe(); err != nil {
			log.Emit(logger.WARNING, "Failed to unsubscribe from queue: %v\n", err)
		}
	}

	client.conn.Close()
}
