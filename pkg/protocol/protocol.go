package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Command represents a command sent to the instrument engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the instrument engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Status represents the current daemon status
type Status struct {
	Instrument string    `json:"instrument"`
	State      string    `json:"state"`
	Point      int       `json:"point"`
	Points     int       `json:"points"`
	StartHz    float64   `json:"start_hz"`
	StopHz     float64   `json:"stop_hz"`
	Frequency  float64   `json:"frequency"`
	Calibrated bool      `json:"calibrated"`
	Uptime     string    `json:"uptime"`
	StartTime  time.Time `json:"start_time"`
	Version    string    `json:"version"`
}

// ParseCommand parses a text command into a Command struct.
//
// Recognized forms:
//
//	STATUS
//	SWEEP:START | SWEEP:ABORT
//	CONFIG:get:<key> | CONFIG:set:<key>:<value>
//	CAL:restart | CAL:measure:<standard> | CAL:compute | CAL:off
//	CAL:save:<name> | CAL:load:<name>
//	TRACE | TRACE:touchstone
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}

	if len(parts) > 1 {
		args := parts[1]

		switch cmd.Type {
		case "SWEEP":
			// SWEEP:START or SWEEP:ABORT
			cmd.Args["action"] = strings.ToLower(strings.TrimSpace(args))

		case "CONFIG":
			// CONFIG:set:key:value or CONFIG:get:key
			configParts := strings.SplitN(args, ":", 3)
			if len(configParts) >= 1 {
				cmd.Args["action"] = strings.ToLower(configParts[0])
			}
			if len(configParts) >= 2 {
				cmd.Args["key"] = configParts[1]
			}
			if len(configParts) >= 3 {
				cmd.Args["value"] = configParts[2]
			}

		case "CAL":
			// CAL:measure:open, CAL:save:bench, CAL:compute, ...
			calParts := strings.SplitN(args, ":", 2)
			cmd.Args["action"] = strings.ToLower(calParts[0])
			if len(calParts) >= 2 {
				cmd.Args["arg"] = calParts[1]
			}

		case "TRACE":
			// TRACE:touchstone
			cmd.Args["format"] = strings.ToLower(strings.TrimSpace(args))

		default:
			cmd.Args["raw"] = args
		}
	}

	return cmd, nil
}

// OK builds a success response carrying the given data.
func OK(data map[string]interface{}) *Response {
	return &Response{Success: true, Data: data}
}

// Fail builds an error response.
func Fail(format string, args ...interface{}) *Response {
	return &Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

// String renders the response as a single JSON line.
func (r *Response) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"encode failure: %v"}`, err)
	}
	return string(data)
}

// FormatUptime formats an uptime duration the way STATUS reports it.
func FormatUptime(since time.Time) string {
	d := time.Since(since).Round(time.Second)
	return d.String()
}
