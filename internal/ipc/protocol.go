// Package ipc defines the JSON messages exchanged over the control socket.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandType names a control-socket request.
type CommandType string

const (
	CmdStatus  CommandType = "STATUS"
	CmdTrigger CommandType = "TRIGGER"
	CmdHistory CommandType = "HISTORY"
)

// DefaultSockAddr is the control socket used when none is configured.
const DefaultSockAddr = "/tmp/mirrorwatch.sock"

// Command is sent from the CLI to the daemon.
type Command struct {
	Type    CommandType    `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Response is sent from the daemon back to the CLI.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Status is the data of a STATUS response.
type Status struct {
	State         string        `json:"state"`
	QuietPeriod   time.Duration `json:"quiet_period"`
	LastEvent     time.Time     `json:"last_event"`
	PendingEvents int           `json:"pending_events"`
	Runs          uint64        `json:"runs"`
	Source        string        `json:"source"`
	Ready         bool          `json:"ready"`
}

// NewCommand creates a new command with the given type and payload
func NewCommand(cmdType CommandType, payload map[string]any) *Command {
	return &Command{
		Type:    cmdType,
		Payload: payload,
	}
}

// NewResponse creates a response. data is encoded as JSON.
func NewResponse(success bool, data any, err error) *Response {
	resp := &Response{Success: success}
	if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			resp.Success = false
			resp.Error = fmt.Sprintf("failed to encode response data: %v", merr)
			return resp
		}
		resp.Data = raw
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// Marshal converts Command to JSON bytes
func (c *Command) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCommand converts JSON bytes to Command
func UnmarshalCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	return &cmd, nil
}

// Marshal converts Response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalResponse converts JSON bytes to Response
func UnmarshalResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}
