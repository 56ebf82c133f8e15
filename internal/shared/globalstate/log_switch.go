package globalstate

import (
	"sync"
)

// LogSwitch 控制例行日志 (每个周期的发送/接收) 是否输出。
// 它使用 RWMutex 来保护并发读写；协议关键事件不受其影响。
type LogSwitch struct {
	mu      sync.RWMutex
	enabled bool
}

// Logging 是进程内共享的例行日志开关，默认开启。
var Logging = NewLogSwitch(true)

// NewLogSwitch 创建一个初始状态为 enabled 的开关。
func NewLogSwitch(enabled bool) *LogSwitch {
	return &LogSwitch{enabled: enabled}
}

// Enable 恢复例行日志。
func (ls *LogSwitch) Enable() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.enabled = true
}

// Disable 暂停例行日志，例如在交互式命令输入期间。
func (ls *LogSwitch) Disable() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.enabled = false
}

// Enabled 方法用于安全地读取状态。nil 开关视为开启。
func (ls *LogSwitch) Enabled() bool {
	if ls == nil {
		return true
	}
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.enabled
}
