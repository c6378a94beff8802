package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v2"

	"github.com/openvna/vnad/pkg/engine"
	"github.com/openvna/vnad/pkg/logging"
	"github.com/openvna/vnad/pkg/sweep"
)

// handleGetStatus returns instrument status via socket
func (d *VNADaemon) handleGetStatus(c *gin.Context) {
	status, err := d.socketClient.GetStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"instrument": status.Instrument,
		"version":    engine.Version,
		"state":      status.State,
		"point":      status.Point,
		"points":     status.Points,
		"start_hz":   status.StartHz,
		"stop_hz":    status.StopHz,
		"frequency":  status.Frequency,
		"calibrated": status.Calibrated,
		"uptime":     status.Uptime,
	})
}

// handleStartSweep begins a sweep via socket
func (d *VNADaemon) handleStartSweep(c *gin.Context) {
	if err := d.socketClient.StartSweep(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// handleAbortSweep aborts any running sweep via socket
func (d *VNADaemon) handleAbortSweep(c *gin.Context) {
	if err := d.socketClient.AbortSweep(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "aborted"})
}

// handleSetRange reconfigures the sweep range
func (d *VNADaemon) handleSetRange(c *gin.Context) {
	var req struct {
		StartHz float64 `json:"start_hz" binding:"required"`
		StopHz  float64 `json:"stop_hz" binding:"required"`
		Points  int     `json:"points" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.engine.SetSweepRange(req.StartHz, req.StopHz, req.Points); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"start_hz": req.StartHz,
		"stop_hz":  req.StopHz,
		"points":   req.Points,
	})
}

// handleGetTrace returns the latest trace as JSON
func (d *VNADaemon) handleGetTrace(c *gin.Context) {
	res := d.engine.LatestResult()
	if res.Points == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trace available"})
		return
	}
	c.JSON(http.StatusOK, traceJSON(res))
}

// handleGetTouchstone returns the latest trace as a Touchstone download
func (d *VNADaemon) handleGetTouchstone(c *gin.Context) {
	ts, err := d.socketClient.GetTouchstone()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="trace.s1p"`)
	c.Data(http.StatusOK, "application/octet-stream", []byte(ts))
}

// handleListSweeps lists stored sweeps
func (d *VNADaemon) handleListSweeps(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		limit = 50
	}

	sweeps, err := d.engine.Store().ListSweeps(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sweeps": sweeps,
		"count":  len(sweeps),
	})
}

// handleGetSweep returns one stored sweep by id
func (d *VNADaemon) handleGetSweep(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sweep id"})
		return
	}

	res, err := d.engine.Store().GetSweep(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if c.Query("format") == "touchstone" {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="sweep-%d.s1p"`, id))
		c.Data(http.StatusOK, "application/octet-stream", []byte(res.Touchstone()))
		return
	}
	c.JSON(http.StatusOK, traceJSON(res))
}

func (d *VNADaemon) calCommand(c *gin.Context, cmd string) {
	resp, err := d.socketClient.SendCommand(cmd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !resp.Success {
		c.JSON(http.StatusConflict, gin.H{"error": resp.Error})
		return
	}
	c.JSON(http.StatusOK, resp.Data)
}

func (d *VNADaemon) handleCalRestart(c *gin.Context) {
	d.calCommand(c, "CAL:restart")
}

func (d *VNADaemon) handleCalMeasure(c *gin.Context) {
	var req struct {
		Standard string `json:"standard" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.calCommand(c, "CAL:measure:"+req.Standard)
}

func (d *VNADaemon) handleCalCompute(c *gin.Context) {
	d.calCommand(c, "CAL:compute")
}

func (d *VNADaemon) handleCalOff(c *gin.Context) {
	d.calCommand(c, "CAL:off")
}

func (d *VNADaemon) handleCalSave(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.calCommand(c, "CAL:save:"+req.Name)
}

func (d *VNADaemon) handleCalLoad(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.calCommand(c, "CAL:load:"+req.Name)
}

// handleListCalibrations lists saved calibration names
func (d *VNADaemon) handleListCalibrations(c *gin.Context) {
	names, err := d.engine.Store().ListCalibrations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calibrations": names})
}

// handleGetConfig returns the current configuration
func (d *VNADaemon) handleGetConfig(c *gin.Context) {
	// Marshal to YAML then unmarshal to a map so field names match the
	// YAML structure.
	yamlData, err := yaml.Marshal(d.config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to marshal config: %v", err),
		})
		return
	}

	var yamlConfig interface{}
	if err := yaml.Unmarshal(yamlData, &yamlConfig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to unmarshal config: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, convertYamlToJson(yamlConfig))
}

// convertYamlToJson converts YAML map[interface{}]interface{} to JSON-compatible map[string]interface{}
func convertYamlToJson(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			m2[fmt.Sprint(k)] = convertYamlToJson(v)
		}
		return m2
	case []interface{}:
		for i, v := range x {
			x[i] = convertYamlToJson(v)
		}
	}
	return i
}

func traceJSON(res sweep.Result) gin.H {
	points := make([]gin.H, res.Points)
	vswr := res.VSWR()
	for i := 0; i < res.Points; i++ {
		points[i] = gin.H{
			"frequency": res.Frequencies[i],
			"real":      real(res.S11[i]),
			"imag":      imag(res.S11[i]),
			"vswr":      vswr[i],
		}
	}
	return gin.H{
		"started_at": res.StartedAt,
		"start_hz":   res.Start,
		"stop_hz":    res.Stop,
		"points":     res.Points,
		"calibrated": res.Calibrated,
		"s11":        points,
	}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// handleTraceWebSocket streams finished sweeps to websocket clients.
func (d *VNADaemon) handleTraceWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("web", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Debug("web", "Trace WebSocket client connected")

	sub := d.engine.Subscribe()
	defer d.engine.Unsubscribe(sub)

	// Drain client frames so control messages keep flowing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case res, ok := <-sub:
			if !ok {
				return
			}
			msg := traceJSON(res)
			msg["type"] = "trace"
			if err := conn.WriteJSON(msg); err != nil {
				logging.Debugf("web", "WebSocket write error: %v", err)
				return
			}

		case <-d.ctx.Done():
			return
		}
	}
}
