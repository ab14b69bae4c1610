package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
)

// Client is the Go side of the signaling protocol, used by server-side call
// participants and tests.
type Client struct {
	ws       *gorillawebsocket.Conn
	writeMu  sync.Mutex
	incoming chan Message

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// Dial connects to a signaling endpoint (ws:// or wss://) with a join ticket.
func Dial(ctx context.Context, endpoint, ticket string) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	q.Set("ticket", ticket)
	u.RawQuery = q.Encode()

	ws, resp, err := gorillawebsocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	c := &Client{
		ws:       ws,
		incoming: make(chan Message, sendBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.fail(err)
			return
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// Messages is closed when the connection ends; Err then says why.
func (c *Client) Messages() <-chan Message { return c.incoming }

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return errors.New("signaling connection closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *Client) Join(roomID string) error {
	return c.Send(Message{Type: TypeJoin, RoomID: roomID})
}

// Close leaves the room and closes the socket.
func (c *Client) Close() error {
	_ = c.Send(Message{Type: TypeLeave})
	c.writeMu.Lock()
	_ = c.ws.WriteControl(gorillawebsocket.CloseMessage,
		gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.fail(errors.New("closed"))
	return c.ws.Close()
}
