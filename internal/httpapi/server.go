package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/benchlab/fleetbench/internal/coordinator"
)

// Server owns the gin.Engine and the Coordinator every handler
// delegates to. It is the HTTP-surface component (spec §2, item 12)
// sitting directly on top of the core.
type Server struct {
	coord  *coordinator.Coordinator
	engine *gin.Engine
}

// New builds a Server with every route in spec §6 wired, plus the
// SPEC_FULL EXPANSION additions (GET /healthz, GET /api/log/stream,
// POST /api/serial/release, POST /api/wifi/legacy-portal-trigger).
func New(coord *coordinator.Coordinator) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{coord: coord, engine: engine}
	s.routes()
	return s
}

// Handler returns the http.Handler to pass to http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	api := s.engine.Group("/api")

	// Slot supervisor (spec §6 "Slot").
	api.GET("/devices", s.handleDevices)
	api.GET("/info", s.handleInfo)
	api.POST("/hotplug", s.handleHotplug)
	api.POST("/start", s.handleStart)
	api.POST("/stop", s.handleStop)
	api.POST("/serial/reset", s.handleSerialReset)
	api.POST("/serial/monitor", s.handleSerialMonitor)
	api.POST("/serial/recover", s.handleSerialRecover)
	api.POST("/serial/release", s.handleSerialRelease) // EXPANSION §4/§9

	// Radio arbiter (spec §6 "Wireless").
	api.GET("/wifi/mode", s.handleWifiModeGet)
	api.POST("/wifi/mode", s.handleWifiModePost)
	api.POST("/wifi/ap_start", s.handleAPStart)
	api.POST("/wifi/ap_stop", s.handleAPStop)
	api.GET("/wifi/ap_status", s.handleAPStatus)
	api.POST("/wifi/sta_join", s.handleSTAJoin)
	api.POST("/wifi/sta_leave", s.handleSTALeave)
	api.GET("/wifi/scan", s.handleScan)
	api.POST("/wifi/http", s.handleWifiHTTPRelay)
	api.GET("/wifi/events", s.handleWifiEvents)
	api.POST("/wifi/lease_event", s.handleLeaseEvent)
	api.POST("/wifi/legacy-portal-trigger", s.handleLegacyPortalTrigger) // EXPANSION §4/§9
	api.POST("/enter-portal", s.handleEnterPortal)

	// GPIO.
	api.POST("/gpio/set", s.handleGPIOSet)
	api.GET("/gpio/status", s.handleGPIOStatus)

	// UDP log sink.
	api.GET("/udplog", s.handleUDPLogQuery)
	api.DELETE("/udplog", s.handleUDPLogClear)

	// Firmware store.
	api.POST("/firmware/upload", s.handleFirmwareUpload)
	api.GET("/firmware/list", s.handleFirmwareList)
	api.DELETE("/firmware/delete", s.handleFirmwareDelete)
	s.engine.GET("/firmware/:project/:file", s.handleFirmwareDownload)

	// Human rendezvous.
	api.POST("/human-interaction", s.handleHumanInteraction)
	api.GET("/human/status", s.handleHumanStatus)
	api.POST("/human/done", s.handleHumanDone)
	api.POST("/human/cancel", s.handleHumanCancel)

	// Test progress.
	api.POST("/test/update", s.handleTestUpdate)
	api.GET("/test/progress", s.handleTestProgress)

	// Activity log.
	api.GET("/log", s.handleActivityLog)
	s.engine.GET("/api/log/stream", s.handleActivityLogStream) // EXPANSION §6

	// Bluetooth Central facade.
	api.POST("/ble/scan", s.handleBLEScan)
	api.POST("/ble/connect", s.handleBLEConnect)
	api.POST("/ble/write", s.handleBLEWrite)
	api.POST("/ble/disconnect", s.handleBLEDisconnect)
	api.GET("/ble/status", s.handleBLEStatus)

	// Liveness probe (EXPANSION §6, ambient — not in spec.md).
	s.engine.GET("/healthz", s.handleHealthz)
}
