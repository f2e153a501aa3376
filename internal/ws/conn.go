package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-presence-service/internal/models"
)

// Conn is the write side of one live transport channel. *websocket.Conn
// satisfies it; tests substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one registered connection owned by the hub for its lifetime.
type Client struct {
	ID          string
	UserID      int64
	Conn        Conn
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time

	writeMu sync.Mutex
}

// Send marshals and writes one event frame. Writes are serialized per
// connection; gorilla conns do not tolerate concurrent writers.
func (c *Client) Send(event models.ServerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.write(payload)
}

func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}
