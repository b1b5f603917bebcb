package websocket

import (
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeDeviceState    MessageType = "device_state"
	MessageTypeAttributeValue MessageType = "attribute_value"
	MessageTypeAttributeError MessageType = "attribute_error"
	MessageTypeSystemStatus   MessageType = "system_status"

	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypeSubscribed  MessageType = "subscribed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Device    string      `json:"device,omitempty"`
	Data      any         `json:"data"`
}

type DeviceStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

type AttributeErrorData struct {
	Attribute string `json:"attribute"`
	Error     string `json:"error"`
}

// clientMessage is anything a client may send.
type clientMessage struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`
	Devices []string `json:"devices,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewDeviceStateMessage(deviceName, state, previous string) Message {
	msg := NewMessage(MessageTypeDeviceState, DeviceStateData{
		State:    state,
		Previous: previous,
	})
	msg.Device = deviceName
	return msg
}

func NewAttributeValueMessage(v types.AttributeValue) Message {
	msg := NewMessage(MessageTypeAttributeValue, v)
	msg.Device = v.Device
	return msg
}

func NewAttributeErrorMessage(deviceName, attribute string, err error) Message {
	msg := NewMessage(MessageTypeAttributeError, AttributeErrorData{
		Attribute: attribute,
		Error:     err.Error(),
	})
	msg.Device = deviceName
	return msg
}

func NewSystemStatusMessage(status any) Message {
	return NewMessage(MessageTypeSystemStatus, status)
}
