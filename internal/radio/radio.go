// Package radio implements the radio-mode arbiter (spec §4.5): it
// multiplexes one wireless interface between access-point, station, and
// scan roles, mutually exclusive with the separate "use radio as
// uplink" mode.
package radio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/activitylog"
	"github.com/benchlab/fleetbench/internal/benchapi"
	"github.com/benchlab/fleetbench/internal/eventqueue"
)

// Mode is one of the four mutually exclusive radio states (spec §3:
// "Radio State").
type Mode int

const (
	ModeIdle Mode = iota
	ModeAP
	ModeSTA
	ModeUplink
)

func (m Mode) String() string {
	switch m {
	case ModeAP:
		return "ap"
	case ModeSTA:
		return "sta"
	case ModeUplink:
		return "uplink"
	default:
		return "idle"
	}
}

// DefaultAPIP is the access point's own address; the DHCP range is
// [AP_IP+1 .. AP_IP+19] with a 1h lease time (spec §4.5).
const DefaultAPIP = "192.168.4.1"

// Station is one entry in the in-memory station table, kept in sync
// with the DHCP lease-event stream (spec §4.5: "ground truth is the
// stream of lease events").
type Station struct {
	MAC      string
	IP       string
	Hostname string
}

// ScanResult is one network the scan operation observed.
type ScanResult struct {
	SSID    string
	Signal  int // dBm, higher (less negative) is stronger
	Channel int
}

// State is the read-only snapshot handlers serialize.
type State struct {
	Mode     string             `json:"mode"`
	AP       *APState           `json:"ap,omitempty"`
	STA      *STAState          `json:"sta,omitempty"`
	Stations map[string]Station `json:"stations,omitempty"`
}

type APState struct {
	SSID    string `json:"ssid"`
	Channel int    `json:"channel"`
}

type STAState struct {
	SSID    string `json:"ssid"`
	IP      string `json:"ip"`
	Gateway string `json:"gateway"`
}

// HTTPRequest/HTTPResponse carry base64-at-the-boundary bodies for
// http_relay (spec §4.5); the arbiter itself works with raw bytes.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Arbiter owns the single process-wide radio.lock and drives every
// wireless operation through a RadioBackend.
type Arbiter struct {
	log      zerolog.Logger
	backend  RadioBackend
	activity *activitylog.Log
	events   *eventqueue.Queue

	mu       sync.Mutex
	mode     Mode
	ap       *APState
	sta      *STAState
	stations map[string]Station
}

// NewArbiter builds an Arbiter around backend, starting Idle.
func NewArbiter(backend RadioBackend, activity *activitylog.Log, events *eventqueue.Queue, log zerolog.Logger) *Arbiter {
	return &Arbiter{
		log:      log.With().Str("component", "radio_arbiter").Logger(),
		backend:  backend,
		activity: activity,
		events:   events,
		mode:     ModeIdle,
		stations: make(map[string]Station),
	}
}

// Snapshot returns the current radio state for HTTP handlers.
func (a *Arbiter) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	stations := make(map[string]Station, len(a.stations))
	for k, v := range a.stations {
		stations[k] = v
	}
	return State{Mode: a.mode.String(), AP: a.ap, STA: a.sta, Stations: stations}
}

// StartAP implements ap_start (spec §4.5).
func (a *Arbiter) StartAP(ctx context.Context, ssid, pass string, channel int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode == ModeUplink {
		return benchapi.Errorf(benchapi.Conflict, "wireless testing disabled")
	}
	if a.mode == ModeSTA {
		if err := a.leaveSTALocked(ctx); err != nil {
			return err
		}
	}

	if err := a.backend.StartAP(ctx, APConfig{
		SSID: ssid, Pass: pass, Channel: channel,
		IP: DefaultAPIP, LeaseRange: [2]string{"192.168.4.2", "192.168.4.20"}, LeaseTime: time.Hour,
	}); err != nil {
		return benchapi.Wrap(benchapi.Unavailable, err, "start ap")
	}

	a.mode = ModeAP
	a.ap = &APState{SSID: ssid, Channel: channel}
	a.stations = make(map[string]Station)
	a.activity.Append(activitylog.Ok, "radio", fmt.Sprintf("ap started: ssid=%s channel=%d", ssid, channel))
	return nil
}

// stopAPLocked tears the AP down and emits STA_DISCONNECT for every known
// station (spec §4.5). Callers must already hold a.mu.
func (a *Arbiter) stopAPLocked(ctx context.Context) error {
	if err := a.backend.StopAP(ctx); err != nil {
		return benchapi.Wrap(benchapi.Internal, err, "stop ap")
	}
	now := time.Now()
	for _, st := range a.stations {
		a.events.Push(eventqueue.Event{Kind: eventqueue.StationDisconnect, MAC: st.MAC, Ts: now})
	}
	a.stations = make(map[string]Station)
	a.mode = ModeIdle
	a.ap = nil
	return nil
}

// StopAP implements ap_stop (spec §4.5).
func (a *Arbiter) StopAP(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode != ModeAP {
		return benchapi.Errorf(benchapi.Conflict, "ap not running")
	}
	if err := a.stopAPLocked(ctx); err != nil {
		return err
	}
	a.activity.Append(activitylog.Info, "radio", "ap stopped")
	return nil
}

// JoinSTA implements sta_join (spec §4.5).
func (a *Arbiter) JoinSTA(ctx context.Context, ssid, pass string, timeout time.Duration) (ip, gateway string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode == ModeUplink {
		return "", "", benchapi.Errorf(benchapi.Conflict, "wireless testing disabled")
	}
	if a.mode == ModeAP {
		if err := a.stopAPLocked(ctx); err != nil {
			return "", "", err
		}
	}

	res, err := a.backend.JoinSTA(ctx, ssid, pass, timeout)
	if err != nil {
		a.mode = ModeIdle
		a.activity.Append(activitylog.Error, "radio", "sta_join failed: "+err.Error())
		return "", "", benchapi.Wrap(benchapi.Timeout, err, "join sta")
	}

	a.mode = ModeSTA
	a.sta = &STAState{SSID: ssid, IP: res.IP, Gateway: res.Gateway}
	a.activity.Append(activitylog.Ok, "radio", fmt.Sprintf("sta joined %s: ip=%s gw=%s", ssid, res.IP, res.Gateway))
	return res.IP, res.Gateway, nil
}

// leaveSTALocked tears the station down. Callers must already hold a.mu.
func (a *Arbiter) leaveSTALocked(ctx context.Context) error {
	if err := a.backend.LeaveSTA(ctx); err != nil {
		return benchapi.Wrap(benchapi.Internal, err, "leave sta")
	}
	a.mode = ModeIdle
	a.sta = nil
	return nil
}

// LeaveSTA implements sta_leave.
func (a *Arbiter) LeaveSTA(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != ModeSTA {
		return benchapi.Errorf(benchapi.Conflict, "sta not joined")
	}
	if err := a.leaveSTALocked(ctx); err != nil {
		return err
	}
	a.activity.Append(activitylog.Info, "radio", "sta left")
	return nil
}

// Scan implements scan: allowed concurrently with AP, refused in
// Uplink, sorted by signal strength, omitting the own AP SSID (spec
// §4.5).
func (a *Arbiter) Scan(ctx context.Context) ([]ScanResult, error) {
	a.mu.Lock()
	if a.mode == ModeUplink {
		a.mu.Unlock()
		return nil, benchapi.Errorf(benchapi.Conflict, "wireless testing disabled")
	}
	ownSSID := ""
	if a.ap != nil {
		ownSSID = a.ap.SSID
	}
	a.mu.Unlock()

	results, err := a.backend.Scan(ctx)
	if err != nil {
		return nil, benchapi.Wrap(benchapi.Unavailable, err, "scan")
	}
	out := results[:0]
	for _, r := range results {
		if r.SSID == ownSSID && ownSSID != "" {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signal > out[j].Signal })
	return out, nil
}

// EnterUplink implements mode=Uplink (spec §4.5): same as sta_join but
// marks the radio Uplink and refuses every other wireless op while
// active; reverts to the previous state on failure.
func (a *Arbiter) EnterUplink(ctx context.Context, ssid, pass string, timeout time.Duration) (ip, gateway string, err error) {
	a.mu.Lock()
	prevMode, prevAP, prevSTA := a.mode, a.ap, a.sta
	a.mu.Unlock()

	ip, gateway, err = a.JoinSTA(ctx, ssid, pass, timeout)
	if err != nil {
		a.mu.Lock()
		a.mode, a.ap, a.sta = prevMode, prevAP, prevSTA
		a.mu.Unlock()
		return "", "", err
	}

	a.mu.Lock()
	a.mode = ModeUplink
	a.mu.Unlock()
	a.activity.Append(activitylog.Ok, "radio", "entered uplink mode, wireless testing disabled")
	return ip, gateway, nil
}

// LeaveUplink tears the station down and returns to Idle.
func (a *Arbiter) LeaveUplink(ctx context.Context) error {
	a.mu.Lock()
	if a.mode != ModeUplink {
		a.mu.Unlock()
		return benchapi.Errorf(benchapi.Conflict, "not in uplink mode")
	}
	a.mode = ModeSTA // reuse LeaveSTA's guard
	a.mu.Unlock()
	return a.LeaveSTA(ctx)
}

// DoRelay implements http_relay: works in AP or STA state (spec §4.5).
func (a *Arbiter) DoRelay(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	a.mu.Lock()
	mode := a.mode
	a.mu.Unlock()
	if mode != ModeAP && mode != ModeSTA {
		return HTTPResponse{}, benchapi.Errorf(benchapi.Conflict, "radio not in ap or sta state")
	}
	resp, err := a.backend.DoRelay(ctx, req)
	if err != nil {
		return HTTPResponse{}, benchapi.Wrap(benchapi.Unavailable, err, "http relay")
	}
	return resp, nil
}

// CaptivePortalPath is the well-known path enter_portal POSTs target
// credentials to on the DUT's captive-portal gateway (spec §4.5).
const CaptivePortalPath = "/configure"

// EnterPortal implements enter_portal: join the DUT's captive AP, POST
// the target WiFi credentials to its gateway, disconnect, then
// ap_start(ssid, password) so the DUT returns as a station (spec §4.5).
func (a *Arbiter) EnterPortal(ctx context.Context, portalSSID, ssid, password string) error {
	_, gateway, err := a.JoinSTA(ctx, portalSSID, "", 15*time.Second)
	if err != nil {
		return benchapi.Wrap(benchapi.Unavailable, err, "join captive portal")
	}

	body := fmt.Sprintf(`{"ssid":%q,"password":%q}`, ssid, password)
	_, err = a.DoRelay(ctx, HTTPRequest{
		Method: "POST",
		URL:    "http://" + gateway + CaptivePortalPath,
		Body:   []byte(body),
	})
	if err != nil {
		a.LeaveSTA(ctx)
		return benchapi.Wrap(benchapi.Unavailable, err, "post captive portal credentials")
	}

	if err := a.LeaveSTA(ctx); err != nil {
		a.activity.Append(activitylog.Error, "radio", "leave captive portal sta: "+err.Error())
	}

	if err := a.StartAP(ctx, ssid, password, 0); err != nil {
		return benchapi.Wrap(benchapi.Unavailable, err, "start ap after captive portal handoff")
	}
	a.activity.Append(activitylog.Ok, "radio", fmt.Sprintf("entered portal: %s -> %s", portalSSID, ssid))
	return nil
}

// OnLeaseEvent ingests a DHCP-daemon lease callback (add/old/del),
// translating it into Event Queue entries (spec §4.5).
func (a *Arbiter) OnLeaseEvent(action, mac, ip, hostname string) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	switch action {
	case "add":
		a.stations[mac] = Station{MAC: mac, IP: ip, Hostname: hostname}
		a.events.Push(eventqueue.Event{Kind: eventqueue.StationConnect, MAC: mac, IP: ip, Hostname: hostname, Ts: now})
	case "old":
		st := a.stations[mac]
		st.MAC = mac
		if ip != "" {
			st.IP = ip
		}
		if hostname != "" {
			st.Hostname = hostname
		}
		a.stations[mac] = st
	case "del":
		delete(a.stations, mac)
		a.events.Push(eventqueue.Event{Kind: eventqueue.StationDisconnect, MAC: mac, Ts: now})
	}
}
