package websocket

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socketClient wraps a single upgraded websocket connection. Writes are
// serialised through a mutex as gorilla connections permit only one
// concurrent writer.
type socketClient struct {
	id        *uuid.UUID
	socket    *websocket.Conn
	writeLock sync.Mutex
	closed    bool
}

// SendMessage marshals the message provided and writes it to the
// underlying socket.
func (client *socketClient) SendMessage(message *SocketMessage) error {
	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	if client.closed {
		return fmt.Errorf("cannot send message to closed client {%v}", client.id)
	}

	if err := client.socket.WriteJSON(message); err != nil {
		return fmt.Errorf("failed to send message to client {%v}: %w", client.id, err)
	}

	return nil
}

// Read runs the clients read loop, decoding each inbound frame in to a
// SocketMessage and emitting it on the receive channel provided. The
// origin of each message is stamped with this clients ID. Blocks until
// the socket closes or a read error occurs.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		var message SocketMessage
		if err := client.socket.ReadJSON(&message); err != nil {
			return fmt.Errorf("read loop for client {%v} closed: %w", client.id, err)
		}

		message.Origin = client.id
		receiveCh <- &message
	}
}

// Close shuts the underlying socket. Safe to call multiple times.
func (client *socketClient) Close() {
	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	if client.closed {
		return
	}

	client.closed = true
	client.socket.Close()
}
