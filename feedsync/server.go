package feedsync

import (
	"context"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type FeedServerSettings struct {
	AuthTimeout  time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	OutboxSize   int
}

func DefaultFeedServerSettings() *FeedServerSettings {
	return &FeedServerSettings{
		AuthTimeout:  2 * time.Second,
		PingTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  15 * time.Second,
		OutboxSize:   32,
	}
}

// FeedServer is the relay websocket endpoint. Each accepted socket must send
// an auth frame first; the frame is echoed back as the ack, the connection
// is registered for its user, and the pumps run until either side goes away.
type FeedServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	registry *ConnectionRegistry
	upgrader *websocket.Upgrader

	settings *FeedServerSettings
}

func NewFeedServerWithDefaults(ctx context.Context, registry *ConnectionRegistry) *FeedServer {
	return NewFeedServer(ctx, registry, DefaultFeedServerSettings())
}

func NewFeedServer(ctx context.Context, registry *ConnectionRegistry, settings *FeedServerSettings) *FeedServer {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &FeedServer{
		ctx:      cancelCtx,
		cancel:   cancel,
		registry: registry,
		upgrader: &websocket.Upgrader{
			// the platform api authenticates; the relay accepts any origin
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		settings: settings,
	}
}

func (self *FeedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[s]upgrade error = %s\n", err)
		return
	}
	self.run(ws)
}

func (self *FeedServer) run(ws *websocket.Conn) {
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	messageType, authBytes, err := ws.ReadMessage()
	if err != nil {
		glog.Infof("[s]auth read error = %s\n", err)
		return
	}
	if messageType != websocket.TextMessage {
		glog.Infof("[s]auth error = bad message type\n")
		return
	}
	auth, err := DecodeAuthFrame(authBytes)
	if err != nil {
		glog.Infof("[s]auth error = %s\n", err)
		return
	}
	userId, err := auth.UserId()
	if err != nil {
		glog.Infof("[s]auth error = %s\n", err)
		return
	}

	// echo the auth frame as the ack
	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
		glog.Infof("[s]auth ack error %s = %s\n", userId, err)
		return
	}

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	connection := newConnection(userId, handleCancel, self.settings.OutboxSize)

	if displaced := self.registry.Register(connection); displaced != nil {
		// one binding per user. the losing socket falls into its reconnect loop
		glog.V(2).Infof("[s]displace %s\n", userId)
		displaced.Close()
	}
	defer self.registry.Unregister(connection)

	glog.V(2).Infof("[s]connect %s\n", userId)

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case frame := <-connection.outbox:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
					glog.V(2).Infof("[ss]%s-> error = %s\n", userId, err)
					return
				}
				glog.V(2).Infof("[ss]%s->\n", userId)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				glog.V(2).Infof("[sr]%s<- error = %s\n", userId, err)
				return
			}

			switch messageType {
			case websocket.TextMessage:
				if len(message) == 0 {
					// ping
					glog.V(2).Infof("[sr]ping %s<-\n", userId)
					continue
				}
				// the push channel is one way. clients mutate via the rest api
				glog.V(2).Infof("[sr]unexpected %s<-\n", userId)
			default:
				glog.V(2).Infof("[sr]other=%d %s<-\n", messageType, userId)
			}
		}
	}()

	select {
	case <-handleCtx.Done():
	}

	glog.V(2).Infof("[s]disconnect %s\n", userId)
}

func (self *FeedServer) Close() {
	self.cancel()
}
