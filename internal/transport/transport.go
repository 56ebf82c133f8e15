// Package transport 定义模拟节点使用的消息连接抽象，以及基于 websocket 的实现。
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by Receive when no message arrives in time.
	ErrTimeout = errors.New("receive timed out")
	// ErrClosed is returned once the connection is closed or broken.
	ErrClosed = errors.New("connection closed")
)

// Transport 负责建立到被测服务器的连接。
type Transport interface {
	Dial(ctx context.Context, uri string) (Conn, error)
}

// Conn 是一条双向的消息连接。Send/Receive 不保证并发安全，
// 由唯一拥有该连接的会话调用；Close 可以重复调用。
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	// Receive 最多等待 timeout，超时返回 ErrTimeout。
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
	// WaitClosed 阻塞直到底层连接完全关闭或 ctx 结束。
	WaitClosed(ctx context.Context) error
}
