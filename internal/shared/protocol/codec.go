package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode 将信封序列化为文本帧。
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", env.Type, err)
	}
	return data, nil
}

// Decode 解析对端发来的文本帧，只做结构解析，不校验字段取值。
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return env, nil
}

// DecodeResponse 只解析连接应答的 type 和 status 字段。
func DecodeResponse(data []byte) (*Response, error) {
	resp := &Response{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, nil
}
