package httpapi

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/benchlab/fleetbench/internal/benchapi"
	"github.com/benchlab/fleetbench/internal/coordinator"
)

// handleDevices implements GET /api/devices (spec §6).
func (s *Server) handleDevices(c *gin.Context) {
	ok(c, gin.H{"slots": s.coord.Devices()})
}

// handleInfo implements GET /api/info (spec §6), enriched with
// uptime/load via gopsutil per SPEC_FULL §2 DOMAIN STACK.
func (s *Server) handleInfo(c *gin.Context) {
	hostname, _ := os.Hostname()

	resp := gin.H{
		"hostname": hostname,
		"slots":    len(s.coord.Devices()),
	}
	if info, err := host.Info(); err == nil {
		resp["uptime_seconds"] = info.Uptime
		resp["os"] = info.OS
		resp["platform"] = info.Platform
	}
	if avg, err := load.Avg(); err == nil {
		resp["load1"] = avg.Load1
		resp["load5"] = avg.Load5
		resp["load15"] = avg.Load15
	}

	present, running := 0, 0
	for _, d := range s.coord.Devices() {
		if d.Present {
			present++
		}
		if d.Running {
			running++
		}
	}
	resp["slots_present"] = present
	resp["slots_running"] = running
	resp["unknown_slots"] = s.coord.Registry().UnknownObservations()

	ok(c, resp)
}

// hotplugRequest is the body POST /api/hotplug takes (spec §6): an
// internal callback from the OS hotplug integration.
type hotplugRequest struct {
	Action  string `json:"action" binding:"required"`
	Devnode string `json:"devnode"`
	IDPath  string `json:"id_path"`
	Devpath string `json:"devpath"`
}

// handleHotplug implements POST /api/hotplug (spec §4.3, §6). It is the
// sole entry point for OS-delivered hotplug callbacks and never blocks
// (the coordinator hands the slow work to a per-slot worker).
func (s *Server) handleHotplug(c *gin.Context) {
	var req hotplugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	var action coordinator.HotplugAction
	switch req.Action {
	case "add":
		action = coordinator.ActionAdd
	case "remove":
		action = coordinator.ActionRemove
	default:
		badRequest(c, "action must be \"add\" or \"remove\"")
		return
	}

	hwPath := req.IDPath
	if hwPath == "" {
		hwPath = req.Devpath
	}
	s.coord.OnHotplug(action, req.Devnode, hwPath)
	ok(c, nil)
}

type startStopRequest struct {
	SlotKey string `json:"slot_key" binding:"required"`
	Devnode string `json:"devnode"`
}

// handleStart implements POST /api/start (spec §6, §8): idempotent
// manual override.
func (s *Server) handleStart(c *gin.Context) {
	var req startStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.coord.StartSlot(req.SlotKey, req.Devnode); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleStop implements POST /api/stop (spec §6, §8): no-op on an
// already-Absent slot.
func (s *Server) handleStop(c *gin.Context) {
	var req startStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.coord.StopSlot(req.SlotKey); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type slotRequest struct {
	Slot string `json:"slot" binding:"required"`
}

// handleSerialReset implements POST /api/serial/reset (spec §4.4, §6).
func (s *Server) handleSerialReset(c *gin.Context) {
	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	slt, err := s.coord.Lookup(req.Slot)
	if err != nil {
		fail(c, err)
		return
	}
	lines, err := s.coord.Reset(slt)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"output": lines})
}

type monitorRequest struct {
	Slot    string `json:"slot" binding:"required"`
	Pattern string `json:"pattern"`
	Timeout int    `json:"timeout"`
}

// handleSerialMonitor implements POST /api/serial/monitor (spec §4.4,
// §6); timeout defaults to 10s.
func (s *Server) handleSerialMonitor(c *gin.Context) {
	var req monitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	timeout := 10 * time.Second
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	slt, err := s.coord.Lookup(req.Slot)
	if err != nil {
		fail(c, err)
		return
	}
	matched, line, output, err := s.coord.Monitor(slt, req.Pattern, timeout)
	if err != nil {
		fail(c, err)
		return
	}
	resp := gin.H{"matched": matched, "output": output}
	if matched {
		resp["line"] = line
	}
	ok(c, resp)
}

// handleSerialRecover implements POST /api/serial/recover (spec §4.4,
// §6): manual entry to the flap-recovery sequence.
func (s *Server) handleSerialRecover(c *gin.Context) {
	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	slt, err := s.coord.Lookup(req.Slot)
	if err != nil {
		fail(c, err)
		return
	}
	s.coord.Recover(slt)
	ok(c, nil)
}

// handleSerialRelease implements POST /api/serial/release (SPEC_FULL §4
// EXPANSION, resolving §9's Open Question): clears Flapping, releases
// the GPIO boot-select line and restarts the proxy (coordinator.Release).
// Fails with conflict if the slot isn't in Flapping/Recovering.
func (s *Server) handleSerialRelease(c *gin.Context) {
	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	slt, err := s.coord.Lookup(req.Slot)
	if err != nil {
		fail(c, err)
		return
	}

	slt.Lock.Lock()
	flapping := slt.Flapping
	slt.Lock.Unlock()
	if !flapping {
		fail(c, benchapi.Errorf(benchapi.Conflict, "slot is not in flapping/recovering"))
		return
	}

	slt.Lock.Lock()
	slt.Flapping = false
	slt.Lock.Unlock()

	if err := s.coord.Release(slt); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
