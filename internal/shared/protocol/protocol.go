package protocol

import (
	"time"

	"nodeio_tester/internal/shared/types"
)

// Magic 是与对端共享的协议魔数。
const Magic uint32 = 0xBEEFBEEF

// 消息类型标签
const (
	TypeConnect           = "connect"
	TypeConnectResponse   = "connect_response"
	TypeNodeData          = "node_data"
	TypeDisconnectRequest = "disconnect_request"
)

// node_data 中 payload 的类型标签
const (
	PayloadSensor      = "sensor"
	PayloadDiagnostics = "diagnostics"
	PayloadOTAStatus   = "ota_status"
)

// connect_response 的状态
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Envelope 是在传输层上交换的一条协议消息。
// Status 只出现在对端发来的 connect_response 中。
type Envelope struct {
	Magic     uint32    `json:"magic"`
	Type      string    `json:"type"`
	NodeID    int       `json:"node_id"`
	Sensors   []string  `json:"sensors,omitempty"`
	Services  []string  `json:"services,omitempty"`
	SeqNum    uint32    `json:"seq_num"`
	Timestamp int64     `json:"timestamp"`
	Status    string    `json:"status,omitempty"`
	Payload   []Payload `json:"payload,omitempty"`
}

// Accepted 判断对端是否接受了连接请求。
func (e *Envelope) Accepted() bool {
	return e != nil && e.Type == TypeConnectResponse && e.Status == StatusAccepted
}

// Response 只包含判定连接应答所需的字段。对端的其他字段不参与判定，
// 取值类型与 Envelope 不一致也不影响结果。
type Response struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Accepted 判断对端是否接受了连接请求。
func (r *Response) Accepted() bool {
	return r != nil && r.Type == TypeConnectResponse && r.Status == StatusAccepted
}

// Payload 是 node_data 中的一个带类型的消息体，只有与 Type 对应的字段被填充。
type Payload struct {
	Type        string             `json:"type"`
	Sensor      map[string]float64 `json:"sensor,omitempty"`
	Diagnostics *Diagnostics       `json:"diagnostics,omitempty"`
	OTAStatus   *OTAStatus         `json:"ota_status,omitempty"`
}

// Diagnostics 对应设备端的 diagnostic_t。
type Diagnostics struct {
	UptimeSec uint32 `json:"uptime_sec"`
	FreeHeap  uint32 `json:"free_heap"`
	RSSI      int    `json:"rssi"`
	ErrorCode int    `json:"error_code"`
	Info      string `json:"info"`
}

// OTAStatus 对应设备端的 ota_status_t。
type OTAStatus struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// SensorPlaceholder 是每个传感器上报的固定读数。
const SensorPlaceholder = 42.0

// BuildEnvelope 构造一个不带 payload 的协议信封。
func BuildEnvelope(msgType string, nodeID types.NodeID, seq uint32, tmpl *types.Template) Envelope {
	if tmpl == nil {
		tmpl = types.DefaultTemplate()
	}
	return Envelope{
		Magic:     Magic,
		Type:      msgType,
		NodeID:    nodeID,
		Sensors:   tmpl.Sensors,
		Services:  tmpl.Services,
		SeqNum:    seq,
		Timestamp: time.Now().Unix(),
	}
}

// BuildPayloads 按固定顺序返回 sensor、diagnostics、ota_status 三个消息体。
func BuildPayloads(sensors []string) []Payload {
	values := make(map[string]float64, len(sensors))
	for _, s := range sensors {
		values[s] = SensorPlaceholder
	}
	return []Payload{
		{Type: PayloadSensor, Sensor: values},
		{
			Type: PayloadDiagnostics,
			Diagnostics: &Diagnostics{
				UptimeSec: 123456,
				FreeHeap:  20480,
				RSSI:      -65,
				ErrorCode: 0,
				Info:      "No issues detected",
			},
		},
		{
			Type: PayloadOTAStatus,
			OTAStatus: &OTAStatus{
				StatusCode: 1,
				Message:    "OTA update successful",
			},
		},
	}
}

// BuildNodeData 构造一条完整的 node_data 消息。
func BuildNodeData(nodeID types.NodeID, seq uint32, tmpl *types.Template) Envelope {
	env := BuildEnvelope(TypeNodeData, nodeID, seq, tmpl)
	env.Payload = BuildPayloads(env.Sensors)
	return env
}

// BuildConnectResponse 构造对端对 connect 的回复，供模拟对端使用。
func BuildConnectResponse(nodeID types.NodeID, status string) Envelope {
	return Envelope{
		Magic:     Magic,
		Type:      TypeConnectResponse,
		NodeID:    nodeID,
		Timestamp: time.Now().Unix(),
		Status:    status,
	}
}
