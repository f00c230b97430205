// Package daemon serves the control socket and guards against a second
// daemon instance.
package daemon

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tangthinker/mirrorwatch/internal/backup"
	"github.com/tangthinker/mirrorwatch/internal/ipc"
	"github.com/tangthinker/mirrorwatch/internal/logger"
)

// Controller is the daemon-side view the socket exposes.
type Controller interface {
	Status() ipc.Status
	Trigger(payload string) error
	History() []backup.Run
}

// Server answers control commands on a Unix domain socket.
type Server struct {
	listener net.Listener
	addr     string
	ctrl     Controller

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// NewServer creates a new Unix domain socket server
func NewServer(addr string, ctrl Controller) (*Server, error) {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(addr); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	if err := os.Chmod(addr, 0660); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return &Server{
		listener: listener,
		addr:     addr,
		ctrl:     ctrl,
		closed:   make(chan struct{}),
	}, nil
}

// Start accepts connections until Close is called.
func (s *Server) Start() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close stops the listener, waits for open connections and removes the socket.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.listener.Close()
		s.wg.Wait()
		if rerr := os.RemoveAll(s.addr); rerr != nil && err == nil {
			err = rerr
		}
	})
	return err
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		logger.Warn("Failed to read from control connection", "error", err)
		return
	}

	cmd, err := ipc.UnmarshalCommand(line)
	if err != nil {
		s.send(conn, ipc.NewResponse(false, nil, fmt.Errorf("invalid command: %w", err)))
		return
	}

	logger.Debug("Control command", "type", cmd.Type)
	s.send(conn, s.dispatch(cmd))
}

func (s *Server) dispatch(cmd *ipc.Command) *ipc.Response {
	switch cmd.Type {
	case ipc.CmdStatus:
		return ipc.NewResponse(true, s.ctrl.Status(), nil)

	case ipc.CmdTrigger:
		payload, _ := cmd.Payload["payload"].(string)
		if payload == "" {
			payload = "manual trigger"
		}
		if err := s.ctrl.Trigger(payload); err != nil {
			return ipc.NewResponse(false, nil, err)
		}
		return ipc.NewResponse(true, s.ctrl.Status(), nil)

	case ipc.CmdHistory:
		runs := s.ctrl.History()
		if limit, ok := cmd.Payload["limit"].(float64); ok && limit > 0 && int(limit) < len(runs) {
			runs = runs[:int(limit)]
		}
		return ipc.NewResponse(true, runs, nil)

	default:
		return ipc.NewResponse(false, nil, fmt.Errorf("unknown command type: %s", cmd.Type))
	}
}

func (s *Server) send(conn net.Conn, resp *ipc.Response) {
	data, err := resp.Marshal()
	if err != nil {
		logger.Warn("Failed to marshal response", "error", err)
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		logger.Warn("Failed to send response", "error", err)
	}
}
