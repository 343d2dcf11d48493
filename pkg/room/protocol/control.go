package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ControlAction is a translation-control verb understood by the agent.
type ControlAction string

const (
	ActionStart ControlAction = "start"
	ActionStop  ControlAction = "stop"
)

// ControlCommand is broadcast to the agent over the reliable data channel.
// Fire and forget: no acknowledgment is awaited.
type ControlCommand struct {
	Type      string        `json:"type"`
	Action    ControlAction `json:"action"`
	Timestamp int64         `json:"timestamp"`
	Room      string        `json:"room"`
}

// EncodeControlCommand serializes a translation_control command for the
// given room, stamped with the wall clock in milliseconds.
func EncodeControlCommand(action ControlAction, room string, now time.Time) ([]byte, error) {
	if action != ActionStart && action != ActionStop {
		return nil, fmt.Errorf("unsupported control action %q", action)
	}
	cmd := ControlCommand{
		Type:      "translation_control",
		Action:    action,
		Timestamp: now.UnixMilli(),
		Room:      room,
	}
	return json.Marshal(cmd)
}
