package feedsync

import (
	"github.com/golang/glog"
)

// EventBroadcaster fans completed mutations out to live connections.
// Delivery is fire and forget with respect to the triggering mutation:
// the emitter never blocks and never sees per-connection failures. A
// connection that misses events catches up via resync on its next connect.
type EventBroadcaster struct {
	registry *ConnectionRegistry
}

func NewEventBroadcaster(registry *ConnectionRegistry) *EventBroadcaster {
	return &EventBroadcaster{
		registry: registry,
	}
}

// BroadcastAll delivers the event to every currently connected client,
// including the client whose mutation produced it.
func (self *EventBroadcaster) BroadcastAll(event *FeedEvent) {
	frame, err := EncodeFeedEvent(event)
	if err != nil {
		glog.Infof("[b]encode %s error = %s\n", event.Type, err)
		return
	}
	for _, connection := range self.registry.Connections() {
		if !connection.send(frame) {
			// slow consumer. drop and let resync repair it
			glog.V(2).Infof("[b]drop %s %s->\n", event.Type, connection.UserId())
		}
	}
}

// SendToUser delivers the event only to the connection bound for `userId`.
// If the user has no active connection the event is silently dropped.
func (self *EventBroadcaster) SendToUser(userId Id, event *FeedEvent) {
	connection, ok := self.registry.Lookup(userId)
	if !ok {
		glog.V(2).Infof("[b]absent %s %s->\n", event.Type, userId)
		return
	}
	frame, err := EncodeFeedEvent(event)
	if err != nil {
		glog.Infof("[b]encode %s error = %s\n", event.Type, err)
		return
	}
	if !connection.send(frame) {
		glog.V(2).Infof("[b]drop %s %s->\n", event.Type, userId)
	}
}

// Broadcast routes the event by its delivery mode: targeted events go only
// to the affected user, everything else goes to all connections.
func (self *EventBroadcaster) Broadcast(event *FeedEvent) {
	if event.Type.IsTargeted() {
		if event.User != nil {
			self.SendToUser(event.User.UserId, event)
		}
		return
	}
	self.BroadcastAll(event)
}
