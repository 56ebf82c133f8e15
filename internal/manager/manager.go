// Package manager owns the registry of simulated nodes. Every structural
// operation runs under one mutex, so add/remove/pause/resume/list/shutdown
// never interleave.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nodeio_tester/internal/metrics"
	"nodeio_tester/internal/shared/logger"
	"nodeio_tester/internal/shared/types"
	"nodeio_tester/internal/simnode"
)

// DefaultGracePeriod 是请求优雅断开之后、强制取消之前的等待时间。
const DefaultGracePeriod = 200 * time.Millisecond

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node does not exist")
)

// Options 配置 Manager。Session 中的 Metrics 为空时使用 Options.Metrics。
type Options struct {
	Session     simnode.Config
	GracePeriod time.Duration
	Metrics     *metrics.Metrics
}

// sessionRecord 只由 Manager 持有。
type sessionRecord struct {
	id         types.NodeID
	sessionID  string
	session    *simnode.Session
	activity   *simnode.ActivityGate
	disconnect *simnode.DisconnectGate
	cancel     context.CancelFunc
	done       chan struct{} // 会话 goroutine 退出后关闭
}

func (r *sessionRecord) running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Manager 是节点集合的唯一事实来源。
type Manager struct {
	ctx  context.Context
	opts Options
	log  zerolog.Logger

	mu    sync.Mutex
	nodes map[types.NodeID]*sessionRecord

	wg sync.WaitGroup
}

// New creates a manager. Cancelling ctx cancels every node session.
func New(ctx context.Context, opts Options) *Manager {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Session.Metrics == nil {
		opts.Session.Metrics = opts.Metrics
	}
	return &Manager{
		ctx:   ctx,
		opts:  opts,
		log:   logger.WithComponent("manager"),
		nodes: make(map[types.NodeID]*sessionRecord),
	}
}

// Add 创建并启动一个新节点。id 已存在时返回 ErrNodeExists，不做任何修改。
func (m *Manager) Add(id types.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; ok {
		m.log.Warn().Int("node_id", id).Msg("Node already exists.")
		return fmt.Errorf("node %d: %w", id, ErrNodeExists)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	rec := &sessionRecord{
		id:         id,
		sessionID:  uuid.NewString(),
		activity:   simnode.NewActivityGate(true),
		disconnect: simnode.NewDisconnectGate(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	rec.session = simnode.New(id, rec.sessionID, m.opts.Session, rec.activity, rec.disconnect)
	m.nodes[id] = rec
	m.opts.Metrics.SetRegistered(len(m.nodes))

	m.wg.Add(1)
	go m.runSession(ctx, rec)

	m.log.Info().Int("node_id", id).Str("session", rec.sessionID).Msg("Node added and started.")
	return nil
}

func (m *Manager) runSession(ctx context.Context, rec *sessionRecord) {
	defer m.wg.Done()
	defer close(rec.done)

	err := rec.session.Run(ctx)
	switch {
	case err == nil:
		m.log.Debug().Int("node_id", rec.id).Msg("Session finished after disconnect.")
	case errors.Is(err, context.Canceled):
		m.log.Debug().Int("node_id", rec.id).Msg("Session cancelled.")
	default:
		m.log.Warn().Err(err).Int("node_id", rec.id).Msg("Session ended.")
	}
}

// Remove 请求节点优雅断开，等待宽限期后强制取消并删除记录。
func (m *Manager) Remove(id types.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.nodes[id]
	if !ok {
		m.log.Warn().Int("node_id", id).Msg("Node does not exist.")
		return fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}

	rec.disconnect.Latch()
	m.awaitGrace([]*sessionRecord{rec})
	rec.cancel()
	delete(m.nodes, id)
	m.opts.Metrics.SetRegistered(len(m.nodes))

	m.log.Info().Int("node_id", id).Msg("Node removed.")
	return nil
}

// Pause 暂停节点的数据发送，不影响连接和断开信号。
func (m *Manager) Pause(id types.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.nodes[id]
	if !ok {
		m.log.Warn().Int("node_id", id).Msg("Node does not exist.")
		return fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	rec.activity.Clear()
	m.log.Info().Int("node_id", id).Msg("Node paused.")
	return nil
}

// Resume 恢复节点的数据发送。
func (m *Manager) Resume(id types.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.nodes[id]
	if !ok {
		m.log.Warn().Int("node_id", id).Msg("Node does not exist.")
		return fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	rec.activity.Set()
	m.log.Info().Int("node_id", id).Msg("Node resumed.")
	return nil
}

// List 返回按 id 排序的节点状态快照。
func (m *Manager) List() []types.NodeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.NodeStatus, 0, len(m.nodes))
	for id, rec := range m.nodes {
		state := types.StateActive
		if !rec.activity.IsActive() {
			state = types.StatePaused
		}
		out = append(out, types.NodeStatus{
			ID:      id,
			State:   state,
			Running: rec.running(),
			Session: rec.sessionID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered nodes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

// Shutdown 对所有节点请求断开，只等待一次宽限期，然后全部取消并清空注册表。
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := make([]*sessionRecord, 0, len(m.nodes))
	for _, rec := range m.nodes {
		rec.disconnect.Latch()
		recs = append(recs, rec)
	}
	m.awaitGrace(recs)
	for id, rec := range m.nodes {
		rec.cancel()
		delete(m.nodes, id)
	}
	m.opts.Metrics.SetRegistered(0)

	m.log.Info().Int("count", len(recs)).Msg("All nodes removed.")
}

// Wait blocks until every session goroutine started by this manager has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// awaitGrace 最多等待一个宽限期；所有会话提前退出时立即返回。
func (m *Manager) awaitGrace(recs []*sessionRecord) {
	if len(recs) == 0 {
		return
	}
	timer := time.NewTimer(m.opts.GracePeriod)
	defer timer.Stop()
	for _, rec := range recs {
		select {
		case <-rec.done:
		case <-timer.C:
			return
		}
	}
}
