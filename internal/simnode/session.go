// Package simnode implements one simulated NodeIO endpoint: connect, handshake,
// a pausable data loop and a two-phase disconnect.
package simnode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nodeio_tester/internal/metrics"
	"nodeio_tester/internal/shared/globalstate"
	"nodeio_tester/internal/shared/logger"
	"nodeio_tester/internal/shared/protocol"
	"nodeio_tester/internal/shared/types"
	"nodeio_tester/internal/transport"
)

// 协议策略常量
const (
	DefaultInterval          = 2 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultDrainTimeout      = 100 * time.Millisecond
	DefaultSettleDelay       = 100 * time.Millisecond
	DefaultCancelSendTimeout = 100 * time.Millisecond
	DefaultCloseWait         = time.Second
)

var (
	ErrHandshakeTimeout = errors.New("no response to connect request")
	ErrRejected         = errors.New("connection not accepted")
)

// State 是会话状态机的当前状态。
type State int32

const (
	StateConnecting State = iota
	StateAwaitingAccept
	StateActive
	StatePaused
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAccept:
		return "awaiting_accept"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config 是所有节点共享的会话参数。零值字段使用默认值。
type Config struct {
	URI       string
	Interval  time.Duration
	Template  *types.Template
	Transport transport.Transport

	HandshakeTimeout  time.Duration
	DrainTimeout      time.Duration
	SettleDelay       time.Duration
	CancelSendTimeout time.Duration
	CloseWait         time.Duration

	LogSwitch *globalstate.LogSwitch
	Metrics   *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Template == nil {
		c.Template = types.DefaultTemplate()
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.CancelSendTimeout <= 0 {
		c.CancelSendTimeout = DefaultCancelSendTimeout
	}
	if c.CloseWait <= 0 {
		c.CloseWait = DefaultCloseWait
	}
	return c
}

// Session 是一个节点的完整生命周期，只能运行一次。
type Session struct {
	id         types.NodeID
	sessionID  string
	cfg        Config
	activity   *ActivityGate
	disconnect *DisconnectGate
	log        zerolog.Logger

	state atomic.Int32
	seq   atomic.Uint32

	conn           transport.Conn
	closeOnce      sync.Once
	disconnectSent bool
}

// New creates a session bound to the given gates. sessionID only tags log lines.
func New(id types.NodeID, sessionID string, cfg Config, activity *ActivityGate, disconnect *DisconnectGate) *Session {
	s := &Session{
		id:         id,
		sessionID:  sessionID,
		cfg:        cfg.withDefaults(),
		activity:   activity,
		disconnect: disconnect,
		log:        logger.WithNode(id, sessionID),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() types.NodeID { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Seq returns the sequence number the next data or disconnect message carries.
func (s *Session) Seq() uint32 { return s.seq.Load() }

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.cfg.Metrics.StateEntered(st.String())
	s.routine().Str("state", st.String()).Msg("State changed")
}

// routine 返回受日志开关控制的 info 事件，关闭时返回 nil (zerolog 对 nil 事件是空操作)。
func (s *Session) routine() *zerolog.Event {
	if !s.cfg.LogSwitch.Enabled() {
		return nil
	}
	return s.log.Info()
}

// Run 执行会话直到结束，返回结束原因。
// 正常断开返回 nil；被外部取消时返回 ctx.Err()。
func (s *Session) Run(ctx context.Context) error {
	s.cfg.Metrics.SessionStarted()
	defer s.cfg.Metrics.SessionEnded()

	s.cfg.Metrics.StateEntered(StateConnecting.String())
	conn, err := s.cfg.Transport.Dial(ctx, s.cfg.URI)
	if err != nil {
		s.log.Error().Err(err).Str("uri", s.cfg.URI).Msg("Failed to connect")
		s.setState(StateClosed)
		return fmt.Errorf("connect: %w", err)
	}
	s.conn = conn
	defer func() {
		s.closeConn()
		s.setState(StateClosed)
	}()
	s.routine().Str("uri", s.cfg.URI).Msg("Connected")

	if err := s.handshake(ctx); err != nil {
		return err
	}
	return s.dataLoop(ctx)
}

func (s *Session) handshake(ctx context.Context) error {
	if err := s.send(ctx, protocol.BuildEnvelope(protocol.TypeConnect, s.id, 0, s.cfg.Template)); err != nil {
		s.log.Error().Err(err).Msg("Failed to send connect request")
		return fmt.Errorf("send connect: %w", err)
	}
	s.log.Info().Msg("Sent connect request")
	s.setState(StateAwaitingAccept)

	msg, err := s.conn.Receive(ctx, s.cfg.HandshakeTimeout)
	switch {
	case errors.Is(err, transport.ErrTimeout):
		s.log.Warn().Dur("timeout", s.cfg.HandshakeTimeout).Msg("No response to connect request (timeout). Exiting.")
		s.cfg.Metrics.HandshakeFailed("timeout")
		return ErrHandshakeTimeout
	case err != nil:
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Connection lost while awaiting accept")
			s.cfg.Metrics.HandshakeFailed("transport")
		}
		return fmt.Errorf("await accept: %w", err)
	}

	s.routine().Str("response", string(msg)).Msg("Received")
	resp, err := protocol.DecodeResponse(msg)
	if err != nil || !resp.Accepted() {
		s.log.Warn().Str("response", string(msg)).Msg("Connection not accepted. Exiting.")
		s.cfg.Metrics.HandshakeFailed("rejected")
		return ErrRejected
	}
	return nil
}

func (s *Session) dataLoop(ctx context.Context) error {
	s.seq.Store(1)
	for {
		if s.disconnect.IsLatched() {
			return s.disconnectSequence(ctx)
		}

		if !s.activity.IsActive() {
			s.setState(StatePaused)
		}
		if err := s.activity.Wait(ctx, s.disconnect.Done()); err != nil {
			if errors.Is(err, errAborted) {
				continue
			}
			return s.cancelled(ctx)
		}
		if s.disconnect.IsLatched() {
			continue
		}
		s.setState(StateActive)

		seq := s.seq.Load()
		if err := s.send(ctx, protocol.BuildNodeData(s.id, seq, s.cfg.Template)); err != nil {
			if ctx.Err() != nil {
				return s.cancelled(ctx)
			}
			s.log.Error().Err(err).Msg("Transport error while sending data, ending session")
			return fmt.Errorf("send node_data: %w", err)
		}
		s.routine().Uint32("seq_num", seq).Msg("Sent data")

		msg, err := s.conn.Receive(ctx, s.cfg.DrainTimeout)
		s.seq.Add(1)
		switch {
		case err == nil:
			s.routine().Str("response", string(msg)).Msg("Received (unexpected)")
		case errors.Is(err, transport.ErrTimeout):
		case ctx.Err() != nil:
			return s.cancelled(ctx)
		default:
			s.log.Error().Err(err).Msg("Transport error, ending session")
			return fmt.Errorf("drain: %w", err)
		}

		if err := sleep(ctx, s.cfg.Interval, s.disconnect.Done()); err != nil {
			return s.cancelled(ctx)
		}
	}
}

// disconnectSequence 是主动断开：发送 disconnect_request，关闭连接，短暂等待投递。
func (s *Session) disconnectSequence(ctx context.Context) error {
	s.setState(StateDisconnecting)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CancelSendTimeout)
	defer cancel()
	s.sendDisconnect(sendCtx, "")
	s.closeAndSettle()
	// 断开过程中被取消时仍要把取消原因交给调用方
	return ctx.Err()
}

// cancelled 是被外部取消时的尽力而为断开，最后把取消原因返回给调用方。
func (s *Session) cancelled(ctx context.Context) error {
	s.setState(StateDisconnecting)
	if !s.disconnectSent {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CancelSendTimeout)
		s.sendDisconnect(sendCtx, " (cancel)")
		cancel()
	}
	s.closeAndSettle()
	return ctx.Err()
}

func (s *Session) sendDisconnect(ctx context.Context, suffix string) {
	env := protocol.BuildEnvelope(protocol.TypeDisconnectRequest, s.id, s.seq.Load(), s.cfg.Template)
	s.log.Info().Uint32("seq_num", env.SeqNum).Msg("Sending disconnect request" + suffix)
	if err := s.send(ctx, env); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send disconnect request" + suffix)
		return
	}
	s.disconnectSent = true
	s.log.Info().Msg("Sent disconnect request" + suffix)
}

func (s *Session) closeAndSettle() {
	s.closeConn()
	waitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseWait)
	if err := s.conn.WaitClosed(waitCtx); err != nil {
		s.log.Debug().Err(err).Msg("Timed out waiting for connection close")
	}
	cancel()
	time.Sleep(s.cfg.SettleDelay)
}

// closeConn 保证每个会话只调用一次 Close。
func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Error closing connection")
		}
	})
}

func (s *Session) send(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := s.conn.Send(ctx, data); err != nil {
		return err
	}
	s.cfg.Metrics.MessageSent(env.Type)
	return nil
}

// sleep waits for d. It returns early and nil when abort closes, or ctx.Err() when ctx ends.
func sleep(ctx context.Context, d time.Duration, abort <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-abort:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
