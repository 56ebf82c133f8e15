package peer

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeio_tester/internal/metrics"
	"nodeio_tester/internal/shared/protocol"
)

func setupTestHub(t *testing.T, mode Mode) (*Hub, string) {
	t.Helper()
	return setupTestHubWithMetrics(t, mode, nil)
}

func setupTestHubWithMetrics(t *testing.T, mode Mode, met *metrics.PeerMetrics) (*Hub, string) {
	t.Helper()
	hub := NewHub(mode, met)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialAndConnect(t *testing.T, uri string, nodeID int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(uri, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	data, err := protocol.Encode(protocol.BuildEnvelope(protocol.TypeConnect, nodeID, 0, nil))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	return conn
}

func TestHub_AcceptsConnect(t *testing.T) {
	hub, uri := setupTestHub(t, ModeAccept)
	conn := dialAndConnect(t, uri, 7)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	resp, err := protocol.Decode(msg)
	require.NoError(t, err)
	assert.True(t, resp.Accepted())
	assert.Equal(t, 7, resp.NodeID)

	require.Eventually(t, func() bool { return len(hub.Received(7)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.Clients())
}

func TestHub_RejectsConnect(t *testing.T) {
	_, uri := setupTestHub(t, ModeReject)
	conn := dialAndConnect(t, uri, 1)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	resp, err := protocol.Decode(msg)
	require.NoError(t, err)
	assert.False(t, resp.Accepted())
	assert.Equal(t, protocol.StatusRejected, resp.Status)
}

func TestHub_SilentAndBadMagic(t *testing.T) {
	hub, uri := setupTestHub(t, ModeSilent)
	conn := dialAndConnect(t, uri, 2)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"magic":1,"type":"node_data","node_id":2}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "silent peer must not answer")

	require.Eventually(t, func() bool { return len(hub.Received(2)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, hub.ReceivedOfType(2, protocol.TypeConnect), 1)
	assert.Empty(t, hub.ReceivedOfType(2, protocol.TypeNodeData))
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, uri := setupTestHub(t, ModeAccept)
	conn := dialAndConnect(t, uri, 3)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_RecordsMetrics(t *testing.T) {
	met := metrics.NewPeer(prometheus.NewRegistry())
	_, uri := setupTestHubWithMetrics(t, ModeAccept, met)
	conn := dialAndConnect(t, uri, 5)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(met.ClientsConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.MessagesReceived.WithLabelValues(protocol.TypeConnect)))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(met.ConnectReplies.WithLabelValues(protocol.StatusAccepted)) == 1
	}, time.Second, 5*time.Millisecond)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(met.ClientsConnected) == 0
	}, time.Second, 5*time.Millisecond)
}
