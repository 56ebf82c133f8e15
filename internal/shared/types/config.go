package types

import "time"

// CommonConf 包含测试器的通用运行参数
type CommonConf struct {
	URI      string        `ini:"uri"`      // 被测服务器的 websocket 地址, e.g. ws://192.168.68.108/ws
	Interval time.Duration `ini:"interval"` // 节点发送 node_data 的间隔
	Nodes    int           `ini:"nodes"`    // 启动时创建的节点数量
	Template string        `ini:"template"` // 样例消息模板文件路径
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// MetricsConf 控制 Prometheus 指标端点
type MetricsConf struct {
	Listen string `ini:"listen"` // 为空时不启动 /metrics
}

// TimeoutConf 协议相关的超时策略。零值表示使用默认值。
type TimeoutConf struct {
	Handshake time.Duration `ini:"handshake"`
	Drain     time.Duration `ini:"drain"`
	Grace     time.Duration `ini:"grace"`
	Settle    time.Duration `ini:"settle"`
}

// Config 是 nodetester 的统一配置结构体
type Config struct {
	CommonConf  `ini:"common"`
	LogConf     `ini:"log"`
	MetricsConf `ini:"metrics"`
	TimeoutConf `ini:"timeouts"`
}

// DefaultConfig 返回未提供配置文件时使用的默认值。
func DefaultConfig() *Config {
	return &Config{
		CommonConf: CommonConf{
			Interval: 2 * time.Second,
			Nodes:    1,
			Template: "configs/samplenodemsg.json",
		},
		LogConf: LogConf{Level: "info"},
	}
}
