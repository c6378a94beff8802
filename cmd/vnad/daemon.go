package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openvna/vnad/pkg/client"
	"github.com/openvna/vnad/pkg/config"
	"github.com/openvna/vnad/pkg/engine"
	"github.com/openvna/vnad/pkg/logging"
)

// VNADaemon ties the measurement engine to the web surface. Control paths
// go through the unix socket like any other client; the store and the
// trace stream are reached directly.
type VNADaemon struct {
	config     *config.Config
	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	engine       *engine.Engine
	socketClient *client.SocketClient
	webServer    *http.Server
}

// NewVNADaemon creates a daemon instance.
func NewVNADaemon(cfg *config.Config, configPath string) (*VNADaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	daemon := &VNADaemon{
		config:       cfg,
		configPath:   configPath,
		ctx:          ctx,
		cancel:       cancel,
		engine:       engine.NewEngine(cfg),
		socketClient: client.NewSocketClient(cfg.API.UnixSocket),
	}

	if err := daemon.setupWebServer(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// Start starts the engine and the web server.
func (d *VNADaemon) Start() error {
	if err := d.engine.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Wait a moment for the socket to be ready.
	time.Sleep(100 * time.Millisecond)

	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to engine socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
		logging.Infof("web", "Starting web server on %s", addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("web", "Web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully.
func (d *VNADaemon) Stop() error {
	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Errorf("web", "Web server shutdown error: %v", err)
		}
	}

	d.engine.Stop()
	d.wg.Wait()
	return nil
}

// setupWebServer initializes the web server and routes
func (d *VNADaemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", d.handleTraceWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.POST("/sweep/start", d.handleStartSweep)
		api.POST("/sweep/abort", d.handleAbortSweep)
		api.PUT("/sweep/range", d.handleSetRange)
		api.GET("/trace", d.handleGetTrace)
		api.GET("/trace.s1p", d.handleGetTouchstone)
		api.GET("/sweeps", d.handleListSweeps)
		api.GET("/sweeps/:id", d.handleGetSweep)
		api.POST("/cal/restart", d.handleCalRestart)
		api.POST("/cal/measure", d.handleCalMeasure)
		api.POST("/cal/compute", d.handleCalCompute)
		api.POST("/cal/off", d.handleCalOff)
		api.POST("/cal/save", d.handleCalSave)
		api.POST("/cal/load", d.handleCalLoad)
		api.GET("/cal", d.handleListCalibrations)
		api.GET("/config", d.handleGetConfig)
	}

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return nil
}
