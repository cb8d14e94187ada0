package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/benchlab/fleetbench/internal/activitylog"
	"github.com/benchlab/fleetbench/internal/benchapi"
	"github.com/benchlab/fleetbench/internal/gpio"
	"github.com/benchlab/fleetbench/internal/testprogress"
)

func (s *Server) gpioUnavailable() error {
	return benchapi.Errorf(benchapi.Unavailable, "no gpio line configured")
}

// Pin has no "required" binding tag: pin 0 is a legitimate GPIO number
// and gin's required check treats an int zero value as absent. The
// allowlist in ctl.Set rejects any pin, including 0, that isn't
// explicitly configured.
type gpioSetRequest struct {
	Pin   int `json:"pin"`
	Value any `json:"value" binding:"required"`
}

// handleGPIOSet implements POST /api/gpio/set (spec §6).
func (s *Server) handleGPIOSet(c *gin.Context) {
	ctl := s.coord.GPIOController()
	if ctl == nil {
		fail(c, s.gpioUnavailable())
		return
	}
	var req gpioSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	value, err := gpio.ParseValue(req.Value)
	if err != nil {
		fail(c, err)
		return
	}
	if err := ctl.Set(req.Pin, value); err != nil {
		fail(c, err)
		return
	}
	s.coord.Activity().Append(activitylog.Info, "gpio", "set pin "+strconv.Itoa(req.Pin)+" to "+string(value))
	ok(c, nil)
}

// handleGPIOStatus implements GET /api/gpio/status (spec §6).
func (s *Server) handleGPIOStatus(c *gin.Context) {
	ctl := s.coord.GPIOController()
	if ctl == nil {
		fail(c, s.gpioUnavailable())
		return
	}
	ok(c, gin.H{"pins": ctl.Status()})
}

// handleUDPLogQuery implements GET /api/udplog (spec §4.8, §6):
// ?since=<RFC3339>&source=<addr>&limit=<n>.
func (s *Server) handleUDPLogQuery(c *gin.Context) {
	since := time.Time{}
	if q := c.Query("since"); q != "" {
		if t, err := time.Parse(time.RFC3339Nano, q); err == nil {
			since = t
		}
	}
	limit := 0
	if q := c.Query("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}
	ok(c, gin.H{"lines": s.coord.UDPLog().Query(since, c.Query("source"), limit)})
}

// handleUDPLogClear implements DELETE /api/udplog (spec §4.8, §6).
func (s *Server) handleUDPLogClear(c *gin.Context) {
	s.coord.UDPLog().Clear()
	ok(c, nil)
}

// handleFirmwareUpload implements POST /api/firmware/upload (spec §6):
// multipart form with "project" and "file" fields, file body as the
// uploaded form file.
func (s *Server) handleFirmwareUpload(c *gin.Context) {
	project := c.PostForm("project")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "missing \"file\" form field")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		fail(c, benchapi.Wrap(benchapi.Internal, err, "open uploaded file"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, benchapi.Wrap(benchapi.Internal, err, "read uploaded file"))
		return
	}
	if err := s.coord.Firmware().Upload(project, fileHeader.Filename, data); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleFirmwareList implements GET /api/firmware/list?project= (spec §6).
func (s *Server) handleFirmwareList(c *gin.Context) {
	list, err := s.coord.Firmware().List(c.Query("project"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"files": list})
}

// handleFirmwareDelete implements DELETE /api/firmware/delete (spec §6).
func (s *Server) handleFirmwareDelete(c *gin.Context) {
	project := c.Query("project")
	file := c.Query("file")
	if err := s.coord.Firmware().Delete(project, file); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleFirmwareDownload implements GET /firmware/:project/:file (spec
// §6): a plain file download, not wrapped in the {"ok":...} envelope.
func (s *Server) handleFirmwareDownload(c *gin.Context) {
	path, err := s.coord.Firmware().Open(c.Param("project"), c.Param("file"))
	if err != nil {
		fail(c, err)
		return
	}
	c.File(path)
}

type humanInteractionRequest struct {
	Message string `json:"message" binding:"required"`
	Timeout int    `json:"timeout"`
}

// handleHumanInteraction implements POST /api/human-interaction (spec
// §4.9, §6): blocks the request goroutine until resolved or timed out.
func (s *Server) handleHumanInteraction(c *gin.Context) {
	var req humanInteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	timeout := 60 * time.Second
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	res, err := s.coord.Human().Request(req.Message, timeout)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"confirmed": res.Confirmed, "timeout": res.TimedOut})
}

// handleHumanStatus implements GET /api/human/status (spec §4.9, §6).
func (s *Server) handleHumanStatus(c *gin.Context) {
	ok(c, gin.H{"status": s.coord.Human().StatusNow()})
}

// handleHumanDone implements POST /api/human/done (spec §4.9, §6).
func (s *Server) handleHumanDone(c *gin.Context) {
	if err := s.coord.Human().Done(); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleHumanCancel implements POST /api/human/cancel (spec §4.9, §6).
func (s *Server) handleHumanCancel(c *gin.Context) {
	if err := s.coord.Human().Cancel(); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleTestUpdate implements POST /api/test/update (spec §6).
func (s *Server) handleTestUpdate(c *gin.Context) {
	var state testprogress.State
	if err := c.ShouldBindJSON(&state); err != nil {
		badRequest(c, err.Error())
		return
	}
	s.coord.TestProgress().Update(state)
	ok(c, nil)
}

// handleTestProgress implements GET /api/test/progress (spec §6).
func (s *Server) handleTestProgress(c *gin.Context) {
	ok(c, gin.H{"progress": s.coord.TestProgress().Snapshot()})
}

// handleActivityLog implements GET /api/log?since= (spec §4.7, §6).
func (s *Server) handleActivityLog(c *gin.Context) {
	since := time.Time{}
	if q := c.Query("since"); q != "" {
		if t, err := time.Parse(time.RFC3339Nano, q); err == nil {
			since = t
		}
	}
	ok(c, gin.H{"entries": s.coord.Activity().Since(since)})
}

// activityLogUpgrader matches the teacher's ws.Router upgrader buffer
// sizing; CheckOrigin accepts every origin, since clients are not
// authenticated.
var activityLogUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleActivityLogStream implements GET /api/log/stream (SPEC_FULL §6
// EXPANSION): a push variant of GET /api/log, polling the log every
// 500ms and writing any new entries as a JSON array frame.
func (s *Server) handleActivityLogStream(c *gin.Context) {
	conn, err := activityLogUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	since := time.Now()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			entries := s.coord.Activity().Since(since)
			if len(entries) == 0 {
				continue
			}
			since = entries[len(entries)-1].Timestamp
			if err := conn.WriteJSON(gin.H{"entries": entries}); err != nil {
				return
			}
		}
	}
}

func (s *Server) bleUnavailable() error {
	return benchapi.Errorf(benchapi.Unavailable, "no bluetooth backend configured")
}

type bleScanRequest struct {
	Timeout    int    `json:"timeout"`
	NameFilter string `json:"name_filter"`
}

// handleBLEScan implements POST /api/ble/scan (spec §4.10, §6).
func (s *Server) handleBLEScan(c *gin.Context) {
	facade := s.coord.BLE()
	if facade == nil {
		fail(c, s.bleUnavailable())
		return
	}
	var req bleScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	timeout := 10 * time.Second
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	results, err := facade.Scan(c.Request.Context(), timeout, req.NameFilter)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"results": results})
}

type bleConnectRequest struct {
	Address string `json:"address" binding:"required"`
}

// handleBLEConnect implements POST /api/ble/connect (spec §4.10, §6).
func (s *Server) handleBLEConnect(c *gin.Context) {
	facade := s.coord.BLE()
	if facade == nil {
		fail(c, s.bleUnavailable())
		return
	}
	var req bleConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	services, err := facade.Connect(c.Request.Context(), req.Address)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"services": services})
}

type bleWriteRequest struct {
	Characteristic string `json:"characteristic" binding:"required"`
	Hex            string `json:"hex" binding:"required"`
	WithResponse   bool   `json:"with_response"`
}

// handleBLEWrite implements POST /api/ble/write (spec §4.10, §6).
func (s *Server) handleBLEWrite(c *gin.Context) {
	facade := s.coord.BLE()
	if facade == nil {
		fail(c, s.bleUnavailable())
		return
	}
	var req bleWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := facade.Write(c.Request.Context(), req.Characteristic, req.Hex, req.WithResponse); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleBLEDisconnect implements POST /api/ble/disconnect (spec §4.10, §6).
func (s *Server) handleBLEDisconnect(c *gin.Context) {
	facade := s.coord.BLE()
	if facade == nil {
		fail(c, s.bleUnavailable())
		return
	}
	if err := facade.Disconnect(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleBLEStatus implements GET /api/ble/status (spec §4.10, §6).
func (s *Server) handleBLEStatus(c *gin.Context) {
	facade := s.coord.BLE()
	if facade == nil {
		fail(c, s.bleUnavailable())
		return
	}
	ok(c, gin.H{"status": facade.Snapshot()})
}

// handleHealthz implements GET /healthz (SPEC_FULL §6 EXPANSION,
// ambient): a plain liveness probe, unauthenticated and outside the
// {"ok":...} envelope by convention for load balancer probes.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
