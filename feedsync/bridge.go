package feedsync

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type BridgeState string

const (
	BridgeStateDisconnected             BridgeState = "Disconnected"
	BridgeStateConnecting               BridgeState = "Connecting"
	BridgeStateConnectedUnauthenticated BridgeState = "ConnectedUnauthenticated"
	BridgeStateConnectedAuthenticated   BridgeState = "ConnectedAuthenticated"
)

type BridgeStateChangeFunction = func(state BridgeState)

type SocketBridgeSettings struct {
	WsHandshakeTimeout  time.Duration
	AuthTimeout         time.Duration
	PingTimeout         time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	ReconnectMinTimeout time.Duration
	ReconnectMaxTimeout time.Duration
}

func DefaultSocketBridgeSettings() *SocketBridgeSettings {
	return &SocketBridgeSettings{
		WsHandshakeTimeout:  2 * time.Second,
		AuthTimeout:         2 * time.Second,
		PingTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		ReadTimeout:         15 * time.Second,
		ReconnectMinTimeout: 1 * time.Second,
		ReconnectMaxTimeout: 30 * time.Second,
	}
}

// SocketBridge owns the client side of the push channel: connect, auth,
// reconnect with backoff, and conversion of inbound frames into cache
// merges. The push channel has no backlog, so events emitted while
// disconnected are gone for this client; every reconnect after the first
// connect therefore triggers a full resync from the platform api.
type SocketBridge struct {
	ctx    context.Context
	cancel context.CancelFunc

	relayUrl string
	auth     *ClientAuth

	api   *FeedApi
	cache *CacheStore

	settings *SocketBridgeSettings

	stateLock sync.Mutex
	state     BridgeState

	stateChangeCallbacks *CallbackList[BridgeStateChangeFunction]
}

func NewSocketBridgeWithDefaults(
	ctx context.Context,
	relayUrl string,
	auth *ClientAuth,
	api *FeedApi,
	cache *CacheStore,
) *SocketBridge {
	return NewSocketBridge(ctx, relayUrl, auth, api, cache, DefaultSocketBridgeSettings())
}

func NewSocketBridge(
	ctx context.Context,
	relayUrl string,
	auth *ClientAuth,
	api *FeedApi,
	cache *CacheStore,
	settings *SocketBridgeSettings,
) *SocketBridge {
	cancelCtx, cancel := context.WithCancel(ctx)
	bridge := &SocketBridge{
		ctx:                  cancelCtx,
		cancel:               cancel,
		relayUrl:             relayUrl,
		auth:                 auth,
		api:                  api,
		cache:                cache,
		settings:             settings,
		state:                BridgeStateDisconnected,
		stateChangeCallbacks: NewCallbackList[BridgeStateChangeFunction](),
	}
	go bridge.run()
	return bridge
}

func (self *SocketBridge) State() BridgeState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state
}

func (self *SocketBridge) AddStateChangeCallback(stateChangeCallback BridgeStateChangeFunction) func() {
	callbackId := self.stateChangeCallbacks.Add(stateChangeCallback)
	return func() {
		self.stateChangeCallbacks.Remove(callbackId)
	}
}

func (self *SocketBridge) setState(state BridgeState) {
	changed := false
	self.stateLock.Lock()
	if self.state != state {
		self.state = state
		changed = true
	}
	self.stateLock.Unlock()

	if changed {
		for _, stateChangeCallback := range self.stateChangeCallbacks.Get() {
			HandleError(func() {
				stateChangeCallback(state)
			})
		}
	}
}

func (self *SocketBridge) run() {
	defer func() {
		self.cancel()
		self.setState(BridgeStateDisconnected)
	}()

	userId, _ := self.auth.UserId()

	authBytes, err := EncodeAuthFrame(self.auth)
	if err != nil {
		return
	}

	reconnect := NewReconnect(self.settings.ReconnectMinTimeout, self.settings.ReconnectMaxTimeout)
	first := true
	for {
		self.setState(BridgeStateConnecting)

		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.relayUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			self.setState(BridgeStateConnectedUnauthenticated)

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			if messageType, message, err := ws.ReadMessage(); err != nil {
				return nil, err
			} else {
				// verify the auth echo
				switch messageType {
				case websocket.TextMessage:
					if !bytes.Equal(authBytes, message) {
						return nil, fmt.Errorf("Auth response error: bad bytes.")
					}
				default:
					return nil, fmt.Errorf("Auth response error.")
				}
			}

			success = true
			return ws, nil
		}

		var ws *websocket.Conn
		if glog.V(2) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[br]connect %s", userId), connect)
		} else {
			ws, err = connect()
		}
		if err != nil {
			glog.Infof("[br]auth error %s = %s\n", userId, err)
			self.setState(BridgeStateDisconnected)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		self.setState(BridgeStateConnectedAuthenticated)
		reconnect.Reset()

		if !first {
			// events emitted while disconnected were lost to this client.
			// invalidate and refetch the authoritative state
			self.resync()
		}
		first = false

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
							// note that for websocket a deadline timeout cannot be recovered
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
						glog.Infof("[br]%s<- error = %s\n", userId, err)
						return
					}

					switch messageType {
					case websocket.TextMessage:
						if len(message) == 0 {
							// ping
							glog.V(2).Infof("[br]ping %s<-\n", userId)
							continue
						}
						event, err := DecodeFeedEvent(message)
						if err != nil {
							glog.Infof("[br]decode error %s<- = %s\n", userId, err)
							continue
						}
						glog.V(2).Infof("[br]%s %s<-\n", event.Type, userId)
						self.cache.ApplyEvent(event)
					default:
						glog.V(2).Infof("[br]other=%d %s<-\n", messageType, userId)
					}
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		if glog.V(2) {
			Trace(fmt.Sprintf("[br]connect run %s", userId), c)
		} else {
			c()
		}

		self.setState(BridgeStateDisconnected)
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *SocketBridge) resync() {
	result, err := self.api.GetFeedSync()
	if err != nil {
		glog.Infof("[br]resync error = %s\n", err)
		return
	}
	if result.Error != nil {
		glog.Infof("[br]resync error = %s\n", result.Error.Message)
		return
	}
	self.cache.ReplaceAll(result.Posts)
}

// Close tears the bridge down: the pending reconnect timer is canceled and
// the active connection is closed without a resync.
func (self *SocketBridge) Close() {
	self.cancel()
}
