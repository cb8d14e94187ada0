package radio

import (
	"context"
	"time"
)

// APConfig is everything StartAP needs to stand up an access point.
type APConfig struct {
	SSID       string
	Pass       string
	Channel    int
	IP         string
	LeaseRange [2]string
	LeaseTime  time.Duration
}

// JoinResult is what a successful JoinSTA yields.
type JoinResult struct {
	IP      string
	Gateway string
}

// RadioBackend is the capability interface the Arbiter drives (spec §1:
// "only their interfaces to the core are specified" for the
// hostapd/dnsmasq/wpa_supplicant/iw wrappers). Two implementations ship:
// subprocessBackend (production, backend_subprocess.go) and SimBackend
// (deterministic, for tests and hardware-less dev runs).
type RadioBackend interface {
	StartAP(ctx context.Context, cfg APConfig) error
	StopAP(ctx context.Context) error
	JoinSTA(ctx context.Context, ssid, pass string, timeout time.Duration) (JoinResult, error)
	LeaveSTA(ctx context.Context) error
	Scan(ctx context.Context) ([]ScanResult, error)
	DoRelay(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
}
