package types

// NodeID 是调用方选择的节点标识，在当前已注册节点中唯一。
type NodeID = int

// Template 描述节点上报的传感器和服务名称。
// 启动时加载一次，之后所有节点只读共享，不可修改。
type Template struct {
	Sensors  []string `json:"sensors"`
	Services []string `json:"services"`
}

// DefaultTemplate 在没有模板文件时使用。
func DefaultTemplate() *Template {
	return &Template{
		Sensors:  []string{"temperature", "humidity", "moisture"},
		Services: []string{"diagnostic", "ota"},
	}
}
