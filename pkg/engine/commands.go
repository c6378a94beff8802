package engine

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/openvna/vnad/pkg/cal"
	"github.com/openvna/vnad/pkg/logging"
	"github.com/openvna/vnad/pkg/protocol"
)

// handleConnection serves one socket client: a line in, a JSON line out.
func (e *Engine) handleConnection(conn net.Conn) {
	defer e.wg.Done()
	defer func() {
		conn.Close()
		e.connMutex.Lock()
		delete(e.conns, conn)
		e.connMutex.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		var resp *protocol.Response
		if err != nil {
			resp = protocol.Fail("parse error: %v", err)
		} else {
			resp = e.handleCommand(cmd)
		}

		if _, err := fmt.Fprintln(conn, resp.String()); err != nil {
			logging.Debugf("engine", "client write failed: %v", err)
			return
		}
	}
}

func (e *Engine) handleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case "STATUS":
		return e.handleStatus()
	case "SWEEP":
		return e.handleSweep(cmd)
	case "CONFIG":
		return e.handleConfig(cmd)
	case "CAL":
		return e.handleCal(cmd)
	case "TRACE":
		return e.handleTrace(cmd)
	}
	return protocol.Fail("unknown command %q", cmd.Type)
}

func (e *Engine) handleStatus() *protocol.Response {
	status := e.Status()
	return protocol.OK(map[string]interface{}{
		"instrument": status.Instrument,
		"state":      status.State,
		"point":      status.Point,
		"points":     status.Points,
		"start_hz":   status.StartHz,
		"stop_hz":    status.StopHz,
		"frequency":  status.Frequency,
		"calibrated": status.Calibrated,
		"uptime":     status.Uptime,
		"version":    status.Version,
	})
}

func (e *Engine) handleSweep(cmd *protocol.Command) *protocol.Response {
	action, _ := cmd.Args["action"].(string)
	switch action {
	case "start":
		if err := e.StartSweep(); err != nil {
			return protocol.Fail("sweep start failed: %v", err)
		}
		return protocol.OK(map[string]interface{}{"message": "sweep started"})
	case "abort":
		e.AbortSweep()
		return protocol.OK(map[string]interface{}{"message": "sweep aborted"})
	}
	return protocol.Fail("unknown sweep action %q", action)
}

func (e *Engine) handleConfig(cmd *protocol.Command) *protocol.Response {
	action, _ := cmd.Args["action"].(string)
	key, _ := cmd.Args["key"].(string)

	switch action {
	case "get":
		e.mutex.RLock()
		value, err := e.configValue(key)
		e.mutex.RUnlock()
		if err != nil {
			return protocol.Fail("%v", err)
		}
		return protocol.OK(map[string]interface{}{"key": key, "value": value})

	case "set":
		value, ok := cmd.Args["value"].(string)
		if !ok {
			return protocol.Fail("CONFIG:set needs a value")
		}
		e.mutex.Lock()
		err := e.setConfigValue(key, value)
		e.mutex.Unlock()
		if err != nil {
			return protocol.Fail("%v", err)
		}
		return protocol.OK(map[string]interface{}{"key": key, "value": value})
	}
	return protocol.Fail("unknown config action %q", action)
}

func (e *Engine) handleCal(cmd *protocol.Command) *protocol.Response {
	action, _ := cmd.Args["action"].(string)
	arg, _ := cmd.Args["arg"].(string)

	switch action {
	case "restart":
		if err := e.RestartCalibration(); err != nil {
			return protocol.Fail("%v", err)
		}
		return protocol.OK(map[string]interface{}{"message": "calibration run started"})

	case "measure":
		std, err := cal.ParseStandard(arg)
		if err != nil {
			return protocol.Fail("%v", err)
		}
		if err := e.MeasureStandard(std); err != nil {
			return protocol.Fail("%v", err)
		}
		return protocol.OK(map[string]interface{}{"message": fmt.Sprintf("measuring %s standard", std)})

	case "compute":
		if err := e.ComputeCalibration(); err != nil {
			return protocol.Fail("%v", err)
		}
		return protocol.OK(map[string]interface{}{"message": "calibration active"})

	case "off":
		e.DetachCalibration()
		return protocol.OK(map[string]interface{}{"message": "calibration off"})

	case "save":
		if arg == "" {
			return protocol.Fail("CAL:save needs a name")
		}
		if err := e.SaveCalibration(arg); err != nil {
			return protocol.Fail("%v", err)
		}
		return protocol.OK(map[string]interface{}{"message": "calibration saved", "name": arg})

	case "load":
		if arg == "" {
			return protocol.Fail("CAL:load needs a name")
		}
		if err := e.LoadCalibration(arg); err != nil {
			return protocol.Fail("%v", err)
		}
		return protocol.OK(map[string]interface{}{"message": "calibration loaded", "name": arg})
	}
	return protocol.Fail("unknown cal action %q", action)
}

func (e *Engine) handleTrace(cmd *protocol.Command) *protocol.Response {
	res := e.LatestResult()
	if res.Points == 0 {
		return protocol.Fail("no trace available")
	}

	format, _ := cmd.Args["format"].(string)
	if format == "touchstone" {
		return protocol.OK(map[string]interface{}{"touchstone": res.Touchstone()})
	}

	points := make([]map[string]interface{}, res.Points)
	for i := 0; i < res.Points; i++ {
		points[i] = map[string]interface{}{
			"frequency": res.Frequencies[i],
			"real":      real(res.S11[i]),
			"imag":      imag(res.S11[i]),
		}
	}
	return protocol.OK(map[string]interface{}{
		"start_hz":   res.Start,
		"stop_hz":    res.Stop,
		"points":     res.Points,
		"calibrated": res.Calibrated,
		"s11":        points,
	})
}
