package httpapi

import (
	"encoding/base64"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/benchlab/fleetbench/internal/benchapi"
	"github.com/benchlab/fleetbench/internal/radio"
)

// radioUnavailable reports the 503 spec §6 returns when no radio backend
// was configured at startup (hardware-less dev box).
func (s *Server) radioUnavailable() error {
	return benchapi.Errorf(benchapi.Unavailable, "no wireless backend configured")
}

// handleWifiModeGet implements GET /api/wifi/mode: the radio arbiter's
// full state snapshot (spec §4.5, §6).
func (s *Server) handleWifiModeGet(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	ok(c, gin.H{"state": arb.Snapshot()})
}

type wifiModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// handleWifiModePost implements POST /api/wifi/mode: a coarse mode
// switch to "idle", tearing down whatever is currently active. It only
// accepts "idle"; AP and STA have their own endpoints, and no HTTP
// route enters Uplink (Arbiter.EnterUplink has no HTTP caller).
func (s *Server) handleWifiModePost(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	var req wifiModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Mode != "idle" {
		badRequest(c, "mode must be \"idle\"; use the dedicated endpoints to enter ap/sta")
		return
	}

	state := arb.Snapshot()
	var err error
	switch state.Mode {
	case "ap":
		err = arb.StopAP(c.Request.Context())
	case "sta":
		err = arb.LeaveSTA(c.Request.Context())
	case "uplink":
		err = arb.LeaveUplink(c.Request.Context())
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type apStartRequest struct {
	SSID    string `json:"ssid" binding:"required"`
	Pass    string `json:"pass"`
	Channel int    `json:"channel"`
}

// handleAPStart implements POST /api/wifi/ap_start (spec §4.5, §6).
func (s *Server) handleAPStart(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	var req apStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := arb.StartAP(c.Request.Context(), req.SSID, req.Pass, req.Channel); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleAPStop implements POST /api/wifi/ap_stop (spec §4.5, §6).
func (s *Server) handleAPStop(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	if err := arb.StopAP(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleAPStatus implements GET /api/wifi/ap_status (spec §4.5, §6).
func (s *Server) handleAPStatus(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	state := arb.Snapshot()
	ok(c, gin.H{"mode": state.Mode, "ap": state.AP, "stations": state.Stations})
}

type staJoinRequest struct {
	SSID    string `json:"ssid" binding:"required"`
	Pass    string `json:"pass"`
	Timeout int    `json:"timeout"`
}

func staTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

// handleSTAJoin implements POST /api/wifi/sta_join (spec §4.5, §6).
func (s *Server) handleSTAJoin(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	var req staJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ip, gateway, err := arb.JoinSTA(c.Request.Context(), req.SSID, req.Pass, staTimeout(req.Timeout))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ip": ip, "gateway": gateway})
}

// handleSTALeave implements POST /api/wifi/sta_leave (spec §4.5, §6).
func (s *Server) handleSTALeave(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	if err := arb.LeaveSTA(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleScan implements GET /api/wifi/scan (spec §4.5, §6).
func (s *Server) handleScan(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	results, err := arb.Scan(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"networks": results})
}

type httpRelayRequest struct {
	Method  string            `json:"method" binding:"required"`
	URL     string            `json:"url" binding:"required"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"` // base64
}

// handleWifiHTTPRelay implements POST /api/wifi/http (spec §4.5, §6):
// relays one HTTP request over whichever radio role is active, with
// bodies carried as base64 at the JSON boundary.
func (s *Server) handleWifiHTTPRelay(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	var req httpRelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var body []byte
	if req.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			badRequest(c, "body must be base64")
			return
		}
		body = decoded
	}

	resp, err := arb.DoRelay(c.Request.Context(), radio.HTTPRequest{
		Method: req.Method, URL: req.URL, Headers: req.Headers, Body: body,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"status_code": resp.StatusCode,
		"headers":     resp.Headers,
		"body":        base64.StdEncoding.EncodeToString(resp.Body),
	})
}

// handleWifiEvents implements GET /api/wifi/events (spec §4.6, §6): a
// single long-poll pull from the wireless event queue. ?timeout is in
// seconds, defaulting to 25 to stay under typical client/proxy timeouts.
func (s *Server) handleWifiEvents(c *gin.Context) {
	timeout := 25 * time.Second
	if q := c.Query("timeout"); q != "" {
		if d, err := time.ParseDuration(q + "s"); err == nil {
			timeout = d
		}
	}
	events := s.coord.Events().Get(timeout)
	ok(c, gin.H{"events": events})
}

type leaseEventRequest struct {
	Action   string `json:"action" binding:"required"` // add/old/del
	MAC      string `json:"mac" binding:"required"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
}

// handleLeaseEvent implements POST /api/wifi/lease_event (spec §4.5,
// §6): the DHCP daemon's lease-change callback.
func (s *Server) handleLeaseEvent(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	var req leaseEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	arb.OnLeaseEvent(req.Action, req.MAC, req.IP, req.Hostname)
	ok(c, nil)
}

type enterPortalRequest struct {
	PortalSSID string `json:"portal_ssid" binding:"required"`
	SSID       string `json:"ssid" binding:"required"`
	Password   string `json:"password"`
}

// handleEnterPortal implements POST /api/enter-portal (spec §4.5, §6).
func (s *Server) handleEnterPortal(c *gin.Context) {
	arb := s.coord.Radio()
	if arb == nil {
		fail(c, s.radioUnavailable())
		return
	}
	var req enterPortalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := arb.EnterPortal(c.Request.Context(), req.PortalSSID, req.SSID, req.Password); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// handleLegacyPortalTrigger implements POST /api/wifi/legacy-portal-trigger
// (SPEC_FULL §4/§9 EXPANSION, resolving the captive-portal-trigger Open
// Question): a back-compat alias of enter-portal kept for DUT firmware
// that still calls the old path name.
func (s *Server) handleLegacyPortalTrigger(c *gin.Context) {
	s.handleEnterPortal(c)
}
