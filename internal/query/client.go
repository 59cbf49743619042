package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/svenmapprio/menuet/internal/apierror"
)

// ErrClosed is returned by Query once the connection is gone.
var ErrClosed = errors.New("query: connection closed")

// Client is the client side of a gateway connection. Response listeners live on the Client and
// die with it; nothing is registered on the bus.
type Client struct {
	conn      *websocket.Conn
	connected chan struct{}
	done      chan struct{}

	mu        sync.Mutex
	socketID  string
	pending   map[string]chan Response
	listeners map[string][]func(json.RawMessage)
	err       error
}

// Dial connects to a gateway websocket endpoint. header is sent on the upgrade request and
// carries cookies or an Authorization header.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:      conn,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		pending:   make(map[string]chan Response),
		listeners: make(map[string][]func(json.RawMessage)),
	}
	go c.readLoop()
	return c, nil
}

// SocketID waits for the connect frame and returns the connection id the gateway assigned.
func (c *Client) SocketID(ctx context.Context) (string, error) {
	select {
	case <-c.connected:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.socketID, nil
	case <-c.done:
		return "", c.closeErr()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// OnEvent registers fn for every frame named event, e.g. "mutation" or "emission".
func (c *Client) OnEvent(event string, fn func(data json.RawMessage)) {
	c.mu.Lock()
	c.listeners[event] = append(c.listeners[event], fn)
	c.mu.Unlock()
}

// Query sends {type, data} and waits for its single response. There is no built-in timeout;
// ctx bounds the wait. A response carrying an error is returned as *apierror.Error.
func (c *Client) Query(ctx context.Context, typ string, data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	w := Wrapper{IsQuery: true, QueryID: uuid.NewString(), QueryPayload: Payload{Type: typ, Data: raw}}
	body, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.pending[w.QueryID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, w.QueryID)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, c.conn, Frame{Event: EventQuery, Data: body}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, &apierror.Error{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Data, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection. Pending queries fail with ErrClosed.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var f Frame
		if err := wsjson.Read(context.Background(), c.conn, &f); err != nil {
			c.mu.Lock()
			c.err = ErrClosed
			c.pending = map[string]chan Response{}
			c.mu.Unlock()
			return
		}
		c.handle(f)
	}
}

func (c *Client) handle(f Frame) {
	if f.Event == EventConnect {
		var id string
		if err := json.Unmarshal(f.Data, &id); err == nil && id != "" {
			c.mu.Lock()
			first := c.socketID == ""
			c.socketID = id
			c.mu.Unlock()
			if first {
				close(c.connected)
			}
		}
	}

	if queryID, ok := strings.CutPrefix(f.Event, "response_"); ok {
		var resp Response
		if err := json.Unmarshal(f.Data, &resp); err != nil || resp.QueryID != queryID {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[queryID]
		// One-shot: a second response for the same id finds nothing.
		delete(c.pending, queryID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	c.mu.Lock()
	fns := append([]func(json.RawMessage){}, c.listeners[f.Event]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(f.Data)
	}
}
