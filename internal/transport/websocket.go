package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const inboxSize = 16

// WebSocketOptions 配置 websocket 拨号与关闭行为。
type WebSocketOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// CloseTimeout 是发送 close 帧后等待对端回应的最长时间。
	CloseTimeout time.Duration
	Header       http.Header
}

// WebSocket 是基于 gorilla/websocket 的 Transport 实现。
type WebSocket struct {
	dialer websocket.Dialer
	opts   WebSocketOptions
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket 创建一个 websocket Transport，零值选项使用默认值。
func NewWebSocket(opts WebSocketOptions) *WebSocket {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = time.Second
	}
	return &WebSocket{
		dialer: websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		opts: opts,
	}
}

// Dial 建立一个 websocket 连接并启动读循环。
func (t *WebSocket) Dial(ctx context.Context, uri string) (Conn, error) {
	ws, _, err := t.dialer.DialContext(ctx, uri, t.opts.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s failed: %w", uri, err)
	}
	return newWSConn(ws, t.opts), nil
}

// wsConn 把 websocket 的帧读取转换为带超时的 Receive。
// gorilla 在读超时之后连接即不可用，所以读操作只在 readPump 中进行，
// Receive 通过 inbox 等待。
type wsConn struct {
	ws   *websocket.Conn
	opts WebSocketOptions

	inbox   chan []byte
	done    chan struct{} // readPump 退出
	readErr error         // done 关闭之前写入

	closing   chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func newWSConn(ws *websocket.Conn, opts WebSocketOptions) *wsConn {
	c := &wsConn{
		ws:      ws,
		opts:    opts,
		inbox:   make(chan []byte, inboxSize),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go c.readPump()
	return c
}

func (c *wsConn) readPump() {
	defer close(c.done)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.inbox <- msg:
		case <-c.closing:
			// 关闭过程中继续读，直到收到对端的 close 帧
		}
	}
}

func (c *wsConn) Send(ctx context.Context, msg []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("%w: write failed: %v", ErrClosed, err)
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
		}
		return nil, fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 发送 close 帧，等待对端回应 (最多 CloseTimeout)，然后关闭底层连接。
// 重复调用直接返回 nil。
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		deadline := time.Now().Add(c.opts.CloseTimeout)
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); werr == nil {
			timer := time.NewTimer(c.opts.CloseTimeout)
			select {
			case <-c.done:
			case <-timer.C:
			}
			timer.Stop()
		}
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) WaitClosed(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
