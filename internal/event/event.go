package event

import (
	"Rendezvous/internal/pkg/consts"

	"github.com/goccy/go-json"
)

// Event WebSocket 帧信封，双向通用
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New 构造事件，data 为 nil 时不带负载
func New(typ string, data interface{}) (*Event, error) {
	ev := &Event{Type: typ}
	if data == nil {
		return ev, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	ev.Data = raw
	return ev, nil
}

// Decode 解析负载
func (e *Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// Encode 编码为整帧，广播时只编码一次
func (e *Event) Encode() (Frame, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: e.Type, Body: body}, nil
}

// Frame 已编码的出站帧
type Frame struct {
	Type string
	Body []byte
}

// Ephemeral 输入状态可丢弃，其余事件不允许静默丢失
func (f Frame) Ephemeral() bool {
	return f.Type == consts.EventTyping
}
