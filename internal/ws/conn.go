package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/crmlive/internal/protocol"
)

// ErrAuthRejected is returned when the server rejects the upgrade with 401.
var ErrAuthRejected = errors.New("server rejected authentication (401)")

const (
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
)

// Conn is one open transport carrying JSON frames.
type Conn interface {
	ReadFrame(ctx context.Context) (protocol.Frame, error)
	WriteFrame(ctx context.Context, f protocol.Frame) error
	Close() error
}

// Dialer opens a Conn and performs the auth handshake on it.
type Dialer interface {
	Dial(ctx context.Context, url string, auth protocol.AuthPayload) (Conn, error)
}

// WebSocketDialer dials with coder/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client // optional
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, auth protocol.AuthPayload) (Conn, error) {
	opts := &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: make(http.Header),
	}
	opts.HTTPHeader.Set("Authorization", "Bearer "+auth.Token)

	c, resp, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrAuthRejected
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	c.SetReadLimit(readLimit)

	conn := &wsConn{c: c}
	hs, err := protocol.NewFrame(protocol.EventAuth, auth)
	if err != nil {
		c.CloseNow()
		return nil, err
	}
	if err := conn.WriteFrame(ctx, hs); err != nil {
		c.CloseNow()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return conn, nil
}

type wsConn struct {
	c *websocket.Conn
}

// ReadFrame returns the next well-formed frame. Malformed frames are logged and skipped.
func (w *wsConn) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	for {
		_, data, err := w.c.Read(ctx)
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("read: %w", err)
		}
		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			slog.Warn("ws: bad frame", "err", err, "len", len(data))
			continue
		}
		return f, nil
	}
}

func (w *wsConn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return w.c.Write(writeCtx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
