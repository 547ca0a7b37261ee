package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client invokes host commands over one websocket connection. Calls may
// be issued from any goroutine; responses are matched by request id.
type Client struct {
	conn     *websocket.Conn
	sendChan chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan Response
	err     error

	logger zerolog.Logger
}

// Dial connects to the host bridge at rawURL. http(s) URLs are mapped to
// ws(s) and a bare host URL gets the bridge path appended.
func Dial(ctx context.Context, rawURL string, logger zerolog.Logger) (*Client, error) {
	wsURL, err := buildWSURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bridge url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:     conn,
		sendChan: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		pending:  make(map[string]chan Response),
		logger:   logger,
	}
	go c.writePump()
	go c.readPump()

	logger.Info().Str("url", wsURL).Msg("bridge connected")
	return c, nil
}

func buildWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = PathBridge
	}
	return u.String(), nil
}

// Invoke sends cmd with args and decodes the result into out, which may
// be nil. Host failures are returned as *RemoteError.
func (c *Client) Invoke(ctx context.Context, cmd string, args, out any) error {
	req := Request{ID: uuid.NewString(), Cmd: cmd}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("marshal %s args: %w", cmd, err)
		}
		req.Args = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cmd, err)
	}
	if len(data) > maxMessageSize {
		return fmt.Errorf("%s: %w (%d bytes)", cmd, ErrMessageTooLarge, len(data))
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	select {
	case c.sendChan <- data:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return &RemoteError{Cmd: cmd, Message: resp.Error}
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", cmd, err)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readPump() {
	defer c.shutdown(ErrClosed)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("bridge read error")
			}
			return
		}

		var resp Response
		if err := json.Unmarshal(message, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("failed to parse bridge response")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug().Str("id", resp.ID).Msg("response for unknown request")
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn().Err(err).Msg("bridge write error")
				c.shutdown(ErrClosed)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(ErrClosed)
				return
			}
		}
	}
}

func (c *Client) shutdown(err error) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

// Close sends a close frame and releases the connection. Calls still
// waiting for a response fail with ErrClosed.
func (c *Client) Close() error {
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.shutdown(ErrClosed)
	c.logger.Debug().Msg("bridge closed")
	return nil
}
