package types

// ActivityState 表示节点的数据发送门控状态。
type ActivityState string

const (
	StateActive ActivityState = "active"
	StatePaused ActivityState = "paused"
)

// NodeStatus 是 list 命令报告的单个节点快照。
type NodeStatus struct {
	ID      NodeID        `json:"id"`
	State   ActivityState `json:"state"`
	Running bool          `json:"running"` // 会话 goroutine 是否仍在运行
	Session string        `json:"session"`
}
