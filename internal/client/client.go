// Package client talks to a running daemon over the control socket.
package client

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/tangthinker/mirrorwatch/internal/backup"
	"github.com/tangthinker/mirrorwatch/internal/ipc"
)

// Client sends one command per connection.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates a client for the socket at addr.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = ipc.DefaultSockAddr
	}
	return &Client{addr: addr, timeout: 10 * time.Second}
}

// SendCommand sends a command to the daemon and returns the response
func (c *Client) SendCommand(cmd *ipc.Command) (*ipc.Response, error) {
	conn, err := net.DialTimeout("unix", c.addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	data, err := cmd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	resp, err := ipc.UnmarshalResponse(line)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("daemon: %s", resp.Error)
	}
	return resp, nil
}

// Status returns the coordinator status.
func (c *Client) Status() (ipc.Status, error) {
	var st ipc.Status
	resp, err := c.SendCommand(ipc.NewCommand(ipc.CmdStatus, nil))
	if err != nil {
		return st, err
	}
	return st, resp.Decode(&st)
}

// Trigger injects a manual change event and returns the resulting status.
func (c *Client) Trigger(payload string) (ipc.Status, error) {
	var st ipc.Status
	resp, err := c.SendCommand(ipc.NewCommand(ipc.CmdTrigger, map[string]any{
		"payload": payload,
	}))
	if err != nil {
		return st, err
	}
	return st, resp.Decode(&st)
}

// History returns up to limit recent runs, newest first. limit <= 0 returns all.
func (c *Client) History(limit int) ([]backup.Run, error) {
	var payload map[string]any
	if limit > 0 {
		payload = map[string]any{"limit": limit}
	}
	resp, err := c.SendCommand(ipc.NewCommand(ipc.CmdHistory, payload))
	if err != nil {
		return nil, err
	}
	var runs []backup.Run
	if len(resp.Data) == 0 {
		return runs, nil
	}
	return runs, resp.Decode(&runs)
}
