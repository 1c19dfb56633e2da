package feedsync

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
)

// Connection is the relay-side handle for one live websocket, labeled with
// the authenticated user. Frames queued on the outbox are written by the
// connection's write pump; a full outbox drops the frame rather than block
// the sender.
type Connection struct {
	userId Id
	cancel context.CancelFunc
	outbox chan []byte
}

func newConnection(userId Id, cancel context.CancelFunc, outboxSize int) *Connection {
	return &Connection{
		userId: userId,
		cancel: cancel,
		outbox: make(chan []byte, outboxSize),
	}
}

func (self *Connection) UserId() Id {
	return self.userId
}

func (self *Connection) send(frame []byte) bool {
	select {
	case self.outbox <- frame:
		return true
	default:
		// full
		return false
	}
}

func (self *Connection) Close() {
	self.cancel()
}

// ConnectionRegistry tracks which live connection currently represents which
// user. At most one binding per user; registering again overwrites.
type ConnectionRegistry struct {
	stateLock sync.Mutex

	// user id -> active connection
	connections map[Id]*Connection
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: map[Id]*Connection{},
	}
}

// Register stores or overwrites the binding for the connection's user.
// The displaced connection, if any, is returned so the caller can close it.
func (self *ConnectionRegistry) Register(connection *Connection) (displaced *Connection) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	displaced = self.connections[connection.userId]
	if displaced == connection {
		displaced = nil
	}
	self.connections[connection.userId] = connection
	return
}

// Unregister removes the binding only if `connection` is still the one
// bound for its user. A reconnect can register a new connection before the
// old connection's close is processed; the stale unregister must not evict
// the newer binding.
func (self *ConnectionRegistry) Unregister(connection *Connection) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	current, ok := self.connections[connection.userId]
	if !ok || current != connection {
		return false
	}
	delete(self.connections, connection.userId)
	return true
}

func (self *ConnectionRegistry) Lookup(userId Id) (*Connection, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	connection, ok := self.connections[userId]
	return connection, ok
}

// Connections returns a snapshot of the currently bound connections.
func (self *ConnectionRegistry) Connections() []*Connection {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return maps.Values(self.connections)
}

func (self *ConnectionRegistry) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.connections)
}
