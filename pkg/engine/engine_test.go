package engine

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openvna/vnad/pkg/client"
	"github.com/openvna/vnad/pkg/config"
	"github.com/openvna/vnad/pkg/hardware"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sweep.StartHz = 1e6
	cfg.Sweep.StopHz = 10e6
	cfg.Sweep.Points = 5
	cfg.API.UnixSocket = filepath.Join(dir, "vnad.sock")
	cfg.Storage.DatabasePath = filepath.Join(dir, "traces.db")
	return cfg
}

func startEngine(t *testing.T) (*Engine, *client.SocketClient) {
	t.Helper()

	cfg := testConfig(t)
	eng := NewEngine(cfg)
	if err := eng.Start(); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	t.Cleanup(eng.Stop)

	return eng, client.NewSocketClient(cfg.API.UnixSocket)
}

func waitForIdle(t *testing.T, c *client.SocketClient) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := c.GetStatus()
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if status.State == "idle" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweep did not finish in time")
}

func TestEngineStatus(t *testing.T) {
	_, c := startEngine(t)

	status, err := c.GetStatus()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.State != "idle" {
		t.Errorf("expected idle after start, got %s", status.State)
	}
	if status.Points != 5 {
		t.Errorf("expected 5 points, got %d", status.Points)
	}
	if status.Version != Version {
		t.Errorf("expected version %s, got %s", Version, status.Version)
	}
}

func TestEngineSweepOverSocket(t *testing.T) {
	eng, c := startEngine(t)

	if err := c.StartSweep(); err != nil {
		t.Fatalf("sweep start failed: %v", err)
	}
	waitForIdle(t, c)

	res := eng.LatestResult()
	if res.Points != 5 {
		t.Fatalf("expected 5 trace points, got %d", res.Points)
	}
	for i, s := range res.S11 {
		if s == 0 {
			t.Errorf("point %d: expected non-zero S11", i)
		}
	}

	// The finished sweep must land in storage.
	id, err := eng.Store().LatestSweepID()
	if err != nil {
		t.Fatalf("no stored sweep: %v", err)
	}
	stored, err := eng.Store().GetSweep(id)
	if err != nil {
		t.Fatalf("get sweep failed: %v", err)
	}
	if stored.Points != 5 {
		t.Errorf("stored sweep has %d points, want 5", stored.Points)
	}
}

func TestEngineTouchstoneOverSocket(t *testing.T) {
	_, c := startEngine(t)

	if err := c.StartSweep(); err != nil {
		t.Fatalf("sweep start failed: %v", err)
	}
	waitForIdle(t, c)

	ts, err := c.GetTouchstone()
	if err != nil {
		t.Fatalf("touchstone failed: %v", err)
	}
	if !strings.Contains(ts, "# Hz S RI R 50") {
		t.Errorf("missing touchstone option line: %q", ts)
	}
	var dataLines int
	for _, line := range strings.Split(strings.TrimSpace(ts), "\n") {
		if !strings.HasPrefix(line, "!") && !strings.HasPrefix(line, "#") {
			dataLines++
		}
	}
	if dataLines != 5 {
		t.Errorf("expected 5 data lines, got %d", dataLines)
	}
}

func TestEngineConfigSet(t *testing.T) {
	_, c := startEngine(t)

	resp, err := c.SendCommand("CONFIG:set:points:9")
	if err != nil || !resp.Success {
		t.Fatalf("config set failed: %v %+v", err, resp)
	}

	status, err := c.GetStatus()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Points != 9 {
		t.Errorf("expected 9 points after set, got %d", status.Points)
	}

	resp, err = c.SendCommand("CONFIG:set:points:100000")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if resp.Success {
		t.Error("expected point count above the maximum to be rejected")
	}

	resp, err = c.SendCommand("CONFIG:get:start_hz")
	if err != nil || !resp.Success {
		t.Fatalf("config get failed: %v %+v", err, resp)
	}
	if v, ok := resp.Data["value"].(float64); !ok || v != 1e6 {
		t.Errorf("expected start_hz 1e6, got %v", resp.Data["value"])
	}
}

func TestEngineCalibrationFlow(t *testing.T) {
	eng, c := startEngine(t)

	mustOK := func(cmd string) {
		t.Helper()
		resp, err := c.SendCommand(cmd)
		if err != nil {
			t.Fatalf("%s failed: %v", cmd, err)
		}
		if !resp.Success {
			t.Fatalf("%s rejected: %s", cmd, resp.Error)
		}
	}

	mustOK("CAL:restart")

	// Present a distinct reflection per standard so the solve is
	// well-conditioned, the way real standards would.
	recv := eng.hw.Receiver().(*hardware.MockReceiver)
	standards := []struct {
		name  string
		gamma complex128
	}{
		{"open", 1}, {"short", -1}, {"load", 0.01},
	}
	for _, std := range standards {
		recv.SetReflection(std.gamma)
		mustOK(fmt.Sprintf("CAL:measure:%s", std.name))
		waitForIdle(t, c)
	}
	recv.SetReflection(0.5)

	mustOK("CAL:compute")

	status, err := c.GetStatus()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.Calibrated {
		t.Error("expected calibrated status after compute")
	}

	// Corrected sweeps flow through the attached calibration.
	mustOK("SWEEP:START")
	waitForIdle(t, c)
	if res := eng.LatestResult(); !res.Calibrated {
		t.Error("expected a calibrated trace")
	}

	mustOK("CAL:save:bench")
	mustOK("CAL:off")
	if status, _ := c.GetStatus(); status.Calibrated {
		t.Error("expected calibration detached after CAL:off")
	}
	mustOK("CAL:load:bench")
	if status, _ := c.GetStatus(); !status.Calibrated {
		t.Error("expected calibration reattached after CAL:load")
	}
}

func TestEngineCalibrationOrdering(t *testing.T) {
	_, c := startEngine(t)

	resp, err := c.SendCommand("CAL:measure:open")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if resp.Success {
		t.Error("expected measure without a calibration run to fail")
	}

	resp, err = c.SendCommand("CAL:restart")
	if err != nil || !resp.Success {
		t.Fatalf("restart failed: %v %+v", err, resp)
	}
	resp, err = c.SendCommand("CAL:compute")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if resp.Success {
		t.Error("expected compute before any standards to fail")
	}
}

func TestEngineUnknownCommand(t *testing.T) {
	_, c := startEngine(t)

	resp, err := c.SendCommand("BOGUS:thing")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if resp.Success {
		t.Error("expected unknown command to fail")
	}
}

func TestEngineSubscribe(t *testing.T) {
	eng, c := startEngine(t)

	sub := eng.Subscribe()
	if err := c.StartSweep(); err != nil {
		t.Fatalf("sweep start failed: %v", err)
	}

	select {
	case res := <-sub:
		if res.Points != 5 {
			t.Errorf("subscriber got %d points, want 5", res.Points)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never received a result")
	}
}

func TestEngineStopWithIdleClient(t *testing.T) {
	cfg := testConfig(t)
	eng := NewEngine(cfg)
	if err := eng.Start(); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}

	conn, err := net.Dial("unix", cfg.API.UnixSocket)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, "STATUS"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
		t.Fatalf("status read failed: %v", err)
	}

	// The client holds its connection open across shutdown; Stop must
	// close it rather than wait for the handler to read another line.
	done := make(chan struct{})
	go func() {
		eng.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return with an idle client connected")
	}
}
