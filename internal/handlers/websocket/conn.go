package websocket

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/auriclabs/auric/internal/types"
)

// Conn wraps one listen socket. All writes go through it so the
// event pump, the ping ticker and error replies never interleave
// mid-message.
type Conn struct {
	UID         string
	DeviceID    string
	SessionID   uuid.UUID
	ConnectedAt time.Time

	ws         *websocket.Conn
	mu         sync.Mutex
	active     bool
	lastActive time.Time
}

func NewConn(uid, deviceID string, ws *websocket.Conn) *Conn {
	now := time.Now()
	return &Conn{
		UID:         uid,
		DeviceID:    deviceID,
		SessionID:   uuid.New(),
		ConnectedAt: now,
		ws:          ws,
		active:      true,
		lastActive:  now,
	}
}

// ReadMessage proxies the socket read and refreshes the activity clock.
func (c *Conn) ReadMessage() (int, []byte, error) {
	messageType, data, err := c.ws.ReadMessage()
	if err == nil {
		c.Touch()
	}
	return messageType, data, err
}

// SendEvent writes one server->client JSON event.
func (c *Conn) SendEvent(ev types.MessageEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return fmt.Errorf("connection %s not active", c.SessionID)
	}
	return c.ws.WriteJSON(ev)
}

// SendError reports a protocol error without closing the socket.
func (c *Conn) SendError(code, message string) error {
	return c.SendEvent(types.MessageEvent{
		Type:      types.EventError,
		SessionID: c.SessionID,
		Data:      ErrorMessage{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Conn) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Conn) IsExpired(timeout time.Duration) bool {
	return time.Since(c.LastActive()) > timeout
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false
	return c.ws.Close()
}
