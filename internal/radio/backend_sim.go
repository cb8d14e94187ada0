package radio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimBackend is a deterministic, in-memory RadioBackend for tests and
// hardware-less dev runs (spec §9: exercise the arbiter without real
// radios), mirroring the split the serial package makes between
// OpenReal and OpenSim.
type SimBackend struct {
	mu        sync.Mutex
	apRunning bool
	staSSID   string
	networks  []ScanResult
	relayFunc func(HTTPRequest) (HTTPResponse, error)
	failJoin  bool
}

// NewSimBackend returns a SimBackend seeded with networks as the scan
// result set.
func NewSimBackend(networks []ScanResult) *SimBackend {
	return &SimBackend{networks: networks}
}

// SetRelayFunc lets a test stand in for the HTTP relay's destination.
func (b *SimBackend) SetRelayFunc(f func(HTTPRequest) (HTTPResponse, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relayFunc = f
}

// SetFailJoin makes the next JoinSTA call fail, for reversion tests.
func (b *SimBackend) SetFailJoin(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failJoin = fail
}

func (b *SimBackend) StartAP(ctx context.Context, cfg APConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apRunning = true
	return nil
}

func (b *SimBackend) StopAP(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apRunning = false
	return nil
}

func (b *SimBackend) JoinSTA(ctx context.Context, ssid, pass string, timeout time.Duration) (JoinResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failJoin {
		b.failJoin = false
		return JoinResult{}, fmt.Errorf("simulated join failure")
	}
	b.staSSID = ssid
	return JoinResult{IP: "10.0.0.5", Gateway: "10.0.0.1"}, nil
}

func (b *SimBackend) LeaveSTA(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staSSID = ""
	return nil
}

func (b *SimBackend) Scan(ctx context.Context) ([]ScanResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ScanResult, len(b.networks))
	copy(out, b.networks)
	return out, nil
}

func (b *SimBackend) DoRelay(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	b.mu.Lock()
	f := b.relayFunc
	b.mu.Unlock()
	if f == nil {
		return HTTPResponse{StatusCode: 200}, nil
	}
	return f(req)
}
