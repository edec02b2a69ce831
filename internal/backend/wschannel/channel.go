package wschannel

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/chat"
)

// Channel is the client side of the push channel: a websocket consumer
// of the hub's per-conversation event stream.
type Channel struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewChannel creates a channel client for a hub at baseURL, for example
// "ws://localhost:8484/ws".
func NewChannel(baseURL string) *Channel {
	return &Channel{
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Subscribe dials the hub for one conversation and delivers decoded
// events until the connection fails or Unsubscribe is called. A failed
// connection surfaces its reason on Done; a clean unsubscribe does not.
func (c *Channel) Subscribe(ctx context.Context, conversationID string, deliver func(chat.Event)) (backend.Subscription, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, chat.WrapError(chat.ErrCodeChannelDisconnected, "bad channel url", err)
	}
	q := u.Query()
	q.Set("conversation", conversationID)
	u.RawQuery = q.Encode()

	ws, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, chat.WrapError(chat.ErrCodeChannelDisconnected, "dial failed", err)
	}

	sub := &subscription{ws: ws, done: make(chan error, 1)}
	go sub.readLoop(deliver)
	return sub, nil
}

type subscription struct {
	ws   *websocket.Conn
	done chan error
	once sync.Once
}

func (s *subscription) Done() <-chan error { return s.done }

// Unsubscribe closes the connection without reporting a reason.
func (s *subscription) Unsubscribe() { s.finish(nil) }

func (s *subscription) finish(reason error) {
	s.once.Do(func() {
		s.ws.Close()
		if reason != nil {
			s.done <- reason
		}
		close(s.done)
	})
}

// readLoop decodes events off the wire. The hub sends pings; replying
// with pongs resets the read deadline.
func (s *subscription) readLoop(deliver func(chat.Event)) {
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPingHandler(func(appData string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return s.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		var ev chat.Event
		if err := s.ws.ReadJSON(&ev); err != nil {
			s.finish(chat.WrapError(chat.ErrCodeChannelDisconnected, "channel read failed", err))
			return
		}
		deliver(ev)
	}
}
