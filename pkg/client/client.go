package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/openvna/vnad/pkg/protocol"
)

// SocketClient represents a client connection to the instrument engine
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // traces can be long
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &response, nil
}

// IsConnected checks whether the engine socket answers a STATUS command.
func (c *SocketClient) IsConnected() bool {
	_, err := c.SendCommand("STATUS")
	return err == nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.SendCommand("STATUS")
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("status error: %s", resp.Error)
	}

	statusData, ok := resp.Data["status"]
	if !ok {
		return nil, fmt.Errorf("status not found in response")
	}

	// Convert to JSON and back to parse properly
	statusJSON, _ := json.Marshal(statusData)
	var status protocol.Status
	if err := json.Unmarshal(statusJSON, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// StartSweep asks the engine to begin a sweep.
func (c *SocketClient) StartSweep() error {
	return c.simple("SWEEP:START")
}

// AbortSweep asks the engine to abort the running sweep.
func (c *SocketClient) AbortSweep() error {
	return c.simple("SWEEP:ABORT")
}

func (c *SocketClient) simple(cmd string) error {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s: %s", cmd, resp.Error)
	}
	return nil
}

// GetTouchstone fetches the latest trace rendered as a Touchstone file.
func (c *SocketClient) GetTouchstone() (string, error) {
	resp, err := c.SendCommand("TRACE:touchstone")
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("trace error: %s", resp.Error)
	}
	body, ok := resp.Data["touchstone"].(string)
	if !ok {
		return "", fmt.Errorf("touchstone body missing in response")
	}
	return body, nil
}
