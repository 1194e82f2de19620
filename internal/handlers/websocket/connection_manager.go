package websocket

import (
	"sync"
	"time"

	"github.com/auriclabs/auric/pkg/Logger"
)

// ConnectionManager tracks live listen sockets, one per uid. A device
// reconnecting displaces its previous socket; the displaced pipeline
// seals through its own teardown.
type ConnectionManager struct {
	logger        *Logger.Logger
	conns         map[string]*Conn
	mutex         sync.RWMutex
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	connTimeout   time.Duration
}

func NewConnectionManager(logger *Logger.Logger) *ConnectionManager {
	cm := &ConnectionManager{
		logger:      logger,
		conns:       make(map[string]*Conn),
		stopCleanup: make(chan struct{}),
		connTimeout: 30 * time.Minute,
	}
	cm.startCleanupRoutine()
	return cm
}

// Register stores the connection, closing any previous socket for the
// same uid.
func (cm *ConnectionManager) Register(conn *Conn) {
	cm.mutex.Lock()
	prev := cm.conns[conn.UID]
	cm.conns[conn.UID] = conn
	cm.mutex.Unlock()

	if prev != nil {
		cm.logger.Infof("displacing previous socket for uid %s (session %s)", conn.UID, prev.SessionID)
		_ = prev.Close()
	}
	cm.logger.Infof("registered listen socket for uid %s (session %s)", conn.UID, conn.SessionID)
}

// Unregister removes the connection if it is still the current one for
// its uid.
func (cm *ConnectionManager) Unregister(conn *Conn) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if current, exists := cm.conns[conn.UID]; exists && current == conn {
		delete(cm.conns, conn.UID)
		cm.logger.Infof("unregistered listen socket for uid %s (session %s)", conn.UID, conn.SessionID)
	}
}

func (cm *ConnectionManager) Get(uid string) (*Conn, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.conns[uid]
	return conn, exists
}

func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.conns)
}

func (cm *ConnectionManager) SetConnTimeout(timeout time.Duration) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connTimeout = timeout
}

func (cm *ConnectionManager) startCleanupRoutine() {
	cm.cleanupTicker = time.NewTicker(5 * time.Minute)

	go func() {
		for {
			select {
			case <-cm.cleanupTicker.C:
				cm.cleanupExpired()
			case <-cm.stopCleanup:
				cm.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpired closes sockets with no traffic past the timeout;
// closing the socket unwinds the read loop, which tears the pipeline
// down through the normal path.
func (cm *ConnectionManager) cleanupExpired() {
	cm.mutex.Lock()
	var expired []*Conn
	for _, conn := range cm.conns {
		if conn.IsExpired(cm.connTimeout) {
			expired = append(expired, conn)
		}
	}
	cm.mutex.Unlock()

	for _, conn := range expired {
		cm.logger.Infof("closing idle socket for uid %s (session %s)", conn.UID, conn.SessionID)
		_ = conn.Close()
	}
}

func (cm *ConnectionManager) Close() error {
	close(cm.stopCleanup)

	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	for uid, conn := range cm.conns {
		cm.logger.Infof("closing listen socket for uid %s", uid)
		if err := conn.Close(); err != nil {
			cm.logger.Errorf("closing socket for uid %s: %v", uid, err)
		}
	}
	cm.conns = make(map[string]*Conn)
	return nil
}

// Stats summarizes the live sockets for the stats endpoint.
func (cm *ConnectionManager) Stats() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	connStats := make([]map[string]interface{}, 0, len(cm.conns))
	for _, conn := range cm.conns {
		connStats = append(connStats, map[string]interface{}{
			"uid":          conn.UID,
			"session_id":   conn.SessionID.String(),
			"connected_at": conn.ConnectedAt,
			"last_active":  conn.LastActive(),
		})
	}
	return map[string]interface{}{
		"active_connections": len(cm.conns),
		"conn_timeout":       cm.connTimeout.String(),
		"connections":        connStats,
	}
}
