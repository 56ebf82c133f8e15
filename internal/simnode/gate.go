package simnode

import (
	"context"
	"errors"
	"sync"
)

// errAborted is returned by waits that were interrupted by the abort channel.
var errAborted = errors.New("wait aborted")

// ActivityGate 控制节点是否允许发送数据。暂停只影响数据发送节奏，不关闭连接。
type ActivityGate struct {
	mu     sync.Mutex
	active bool
	ch     chan struct{} // active 时已关闭
}

// NewActivityGate 创建一个处于 active 或 paused 状态的门控。
func NewActivityGate(active bool) *ActivityGate {
	g := &ActivityGate{ch: make(chan struct{})}
	if active {
		g.active = true
		close(g.ch)
	}
	return g
}

// Set 切换到 active，唤醒所有等待者。
func (g *ActivityGate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		g.active = true
		close(g.ch)
	}
}

// Clear 切换到 paused。
func (g *ActivityGate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		g.active = false
		g.ch = make(chan struct{})
	}
}

func (g *ActivityGate) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Wait 阻塞直到门控为 active。abort 关闭时返回 errAborted，
// ctx 结束时返回 ctx.Err()。
func (g *ActivityGate) Wait(ctx context.Context, abort <-chan struct{}) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-abort:
		return errAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DisconnectGate 是一次性的断开请求信号，一旦置位不可复位。
type DisconnectGate struct {
	once sync.Once
	ch   chan struct{}
}

func NewDisconnectGate() *DisconnectGate {
	return &DisconnectGate{ch: make(chan struct{})}
}

// Latch 请求优雅断开，重复调用无副作用。
func (g *DisconnectGate) Latch() {
	g.once.Do(func() { close(g.ch) })
}

func (g *DisconnectGate) IsLatched() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Done 返回在 Latch 之后关闭的 channel。
func (g *DisconnectGate) Done() <-chan struct{} {
	return g.ch
}
