// Package peer 实现一个最小的 NodeIO 对端，用于手工联调和端到端测试。
package peer

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nodeio_tester/internal/metrics"
	"nodeio_tester/internal/shared/logger"
	"nodeio_tester/internal/shared/protocol"
)

// Mode 决定对端如何回应 connect 请求。
type Mode string

const (
	ModeAccept Mode = "accept"
	ModeReject Mode = "reject"
	ModeSilent Mode = "silent"
)

// Received 是对端收到的一条消息。
type Received struct {
	ClientID string
	At       time.Time
	Envelope *protocol.Envelope
}

// Hub maintains the set of connected nodes and records what they send.
type Hub struct {
	mode    Mode
	log     zerolog.Logger
	metrics *metrics.PeerMetrics

	mu       sync.Mutex
	clients  map[*websocket.Conn]string
	received map[int][]Received
}

// NewHub creates a hub. met may be nil.
func NewHub(mode Mode, met *metrics.PeerMetrics) *Hub {
	return &Hub{
		mode:     mode,
		log:      logger.WithComponent("peer"),
		metrics:  met,
		clients:  make(map[*websocket.Conn]string),
		received: make(map[int][]Received),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
}

// Handler 返回在 /ws 上提供服务的 http.Handler。
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWs)
	return mux
}

// ServeWs handles websocket requests from simulated nodes.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	id := uuid.NewString()
	h.register(conn, id)

	go func() {
		defer h.unregister(conn)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Warn().Err(err).Str("client", id).Msg("Unexpected websocket close error")
				}
				return
			}
			h.handle(conn, id, msg)
		}
	}()
}

func (h *Hub) handle(conn *websocket.Conn, clientID string, msg []byte) {
	env, err := protocol.Decode(msg)
	if err != nil {
		h.log.Warn().Err(err).Str("client", clientID).Msg("Dropping undecodable message")
		return
	}
	if env.Magic != protocol.Magic {
		h.log.Warn().Str("client", clientID).Uint32("magic", env.Magic).Msg("Dropping message with bad magic")
		return
	}

	h.mu.Lock()
	h.received[env.NodeID] = append(h.received[env.NodeID], Received{ClientID: clientID, At: time.Now(), Envelope: env})
	h.mu.Unlock()
	h.metrics.MessageReceived(env.Type)

	h.log.Debug().Str("client", clientID).Int("node_id", env.NodeID).Str("type", env.Type).Uint32("seq_num", env.SeqNum).Msg("Received")

	if env.Type != protocol.TypeConnect {
		return
	}
	var status string
	switch h.mode {
	case ModeAccept:
		status = protocol.StatusAccepted
	case ModeReject:
		status = protocol.StatusRejected
	default:
		return
	}
	reply, err := protocol.Encode(protocol.BuildConnectResponse(env.NodeID, status))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode connect response")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
		h.log.Warn().Err(err).Str("client", clientID).Msg("Error writing to websocket client.")
		return
	}
	h.metrics.ConnectReplied(status)
}

func (h *Hub) register(conn *websocket.Conn, id string) {
	h.mu.Lock()
	h.clients[conn] = id
	h.mu.Unlock()
	h.metrics.ClientConnected()
	h.log.Info().Str("client", id).Str("remote_addr", conn.RemoteAddr().String()).Msg("Node connected.")
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	id, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		h.metrics.ClientDisconnected()
		conn.Close()
		h.log.Info().Str("client", id).Msg("Node disconnected.")
	}
}

// Clients returns the number of connected nodes.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Received returns a copy of everything received from nodeID, in arrival order.
func (h *Hub) Received(nodeID int) []Received {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Received(nil), h.received[nodeID]...)
}

// ReceivedOfType filters Received by message type.
func (h *Hub) ReceivedOfType(nodeID int, msgType string) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, r := range h.Received(nodeID) {
		if r.Envelope.Type == msgType {
			out = append(out, r.Envelope)
		}
	}
	return out
}
