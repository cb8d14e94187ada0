package serial

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/benchapi"
)

// Proxy is "one task tree: accept loop, per-client read loop, per-client
// write loop" fanning a single tty device out over TCP (spec §4.2). It is
// grounded on the teacher's pty.Hub broadcast/register/unregister channel
// pattern, narrowed to a single exclusive primary client (a second TCP
// connection is closed at once) plus any number of internal, non-exclusive "monitor"
// readers that the flap detector and serial ops use to watch traffic
// without taking over the line.
type Proxy struct {
	log        zerolog.Logger
	addr       string
	devicePath string
	family     Family
	open       OpenFunc

	listener net.Listener
	device   Device

	registerMon   chan chan []byte
	unregisterMon chan chan []byte
	monitors      map[chan []byte]struct{}
	broadcastChan chan []byte

	mu      sync.Mutex
	primary net.Conn
	running bool
	done    chan struct{}
}

// NewProxy builds a Proxy for devicePath, listening on addr once Start is
// called. open is swappable so tests can pass OpenSim.
func NewProxy(addr, devicePath string, family Family, open OpenFunc, log zerolog.Logger) *Proxy {
	return &Proxy{
		log:           log.With().Str("component", "serial_proxy").Str("addr", addr).Logger(),
		addr:          addr,
		devicePath:    devicePath,
		family:        family,
		open:          open,
		registerMon:   make(chan chan []byte),
		unregisterMon: make(chan chan []byte),
		monitors:      make(map[chan []byte]struct{}),
		broadcastChan: make(chan []byte, 256),
	}
}

// Start opens the device, binds the listener, and launches the
// broadcast/accept/read task tree. It returns once the listener is bound.
func (p *Proxy) Start(ctx context.Context) error {
	dev, err := p.open(p.devicePath, p.family)
	if err != nil {
		return benchapi.Wrap(benchapi.Unavailable, err, "open device")
	}
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		dev.Close()
		return benchapi.Wrap(benchapi.Unavailable, err, "listen")
	}

	if p.family == NativeUSB {
		// Hold DTR/RTS low for the bootloader-avoidance window (spec §4.2)
		// before any client traffic can reach the line.
		time.Sleep(100 * time.Millisecond)
	}

	p.mu.Lock()
	p.device = dev
	p.listener = ln
	p.running = true
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.broadcastLoop()
	go p.deviceReadLoop()
	go p.acceptLoop(ctx)

	p.log.Info().Str("devnode", p.devicePath).Msg("serial proxy started")
	return nil
}

// Stop closes the listener, disconnects the primary client, and releases
// the device. Safe to call once; idempotent calls return nil.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	ln := p.listener
	dev := p.device
	primary := p.primary
	done := p.done
	p.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if primary != nil {
		primary.Close()
	}
	if done != nil {
		close(done)
	}
	if dev != nil {
		return dev.Close()
	}
	return nil
}

// Device exposes the open device handle so serial ops (reset, recover)
// can drive DTR/RTS/break directly without going through the wire
// framing.
func (p *Proxy) Device() Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// AddMonitor registers a non-exclusive reader that receives every byte
// the device emits, independent of whatever the primary TCP client is
// doing. The returned func unregisters it; callers must call it exactly
// once.
func (p *Proxy) AddMonitor() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	p.registerMon <- ch
	return ch, func() { p.unregisterMon <- ch }
}

func (p *Proxy) acceptLoop(ctx context.Context) {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return // listener closed by Stop
		}

		p.mu.Lock()
		busy := p.primary != nil
		if !busy {
			p.primary = conn
		}
		p.mu.Unlock()

		if busy {
			p.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("rejecting second primary client")
			conn.Close()
			continue
		}

		p.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("primary client connected")
		go p.clientWriteLoop(conn)
	}
}

// clientWriteLoop reads framed bytes from the primary client, decodes
// control subnegotiations, and applies them to the device; plain data is
// written through verbatim.
func (p *Proxy) clientWriteLoop(conn net.Conn) {
	defer func() {
		conn.Close()
		p.mu.Lock()
		if p.primary == conn {
			p.primary = nil
		}
		p.mu.Unlock()
		p.log.Info().Msg("primary client disconnected")
	}()

	var dec Decoder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		data, cmds := dec.Decode(buf[:n])

		p.mu.Lock()
		dev := p.device
		p.mu.Unlock()
		if dev == nil {
			return
		}

		if len(data) > 0 {
			if _, err := dev.Write(data); err != nil {
				p.log.Warn().Err(err).Msg("device write failed")
				return
			}
		}
		for _, cmd := range cmds {
			p.applyCommand(dev, cmd)
		}
	}
}

func (p *Proxy) applyCommand(dev Device, cmd Command) {
	switch cmd.Kind {
	case CmdSetModem:
		if err := dev.SetModem(cmd.Bits); err != nil {
			p.log.Warn().Err(err).Msg("set modem failed")
		}
	case CmdSetBreak:
		if err := dev.SetBreak(cmd.Break); err != nil {
			p.log.Warn().Err(err).Msg("set break failed")
		}
	case CmdSetBaud:
		if err := dev.SetBaud(cmd.Baud); err != nil {
			p.log.Warn().Err(err).Msg("set baud failed")
		}
	}
}

// deviceReadLoop is the sole reader of the device; it hands every chunk
// to the broadcast loop for fan-out to the primary client and monitors.
func (p *Proxy) deviceReadLoop() {
	buf := make([]byte, 4096)
	for {
		p.mu.Lock()
		dev := p.device
		running := p.running
		p.mu.Unlock()
		if !running || dev == nil {
			return
		}

		n, err := dev.Read(buf)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		p.broadcast(chunk)
	}
}

// internal channel the broadcast loop selects on; set up lazily so
// broadcast() can be called before Start's goroutines are scheduled.
func (p *Proxy) broadcast(chunk []byte) {
	select {
	case p.broadcastCh() <- chunk:
	case <-time.After(time.Second):
		p.log.Warn().Msg("broadcast loop not draining, dropping chunk")
	}
}

func (p *Proxy) broadcastCh() chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broadcastChan == nil {
		p.broadcastChan = make(chan []byte, 256)
	}
	return p.broadcastChan
}

func (p *Proxy) broadcastLoop() {
	for {
		select {
		case ch := <-p.registerMon:
			p.monitors[ch] = struct{}{}
		case ch := <-p.unregisterMon:
			delete(p.monitors, ch)
			close(ch)
		case chunk := <-p.broadcastCh():
			p.mu.Lock()
			primary := p.primary
			p.mu.Unlock()
			if primary != nil {
				if _, err := primary.Write(EncodeData(chunk)); err != nil {
					p.log.Warn().Err(err).Msg("primary write failed")
				}
			}
			for ch := range p.monitors {
				select {
				case ch <- chunk:
				default:
				}
			}
		case <-p.done:
			return
		}
	}
}

// String satisfies fmt.Stringer for log fields and error messages.
func (p *Proxy) String() string {
	return fmt.Sprintf("serial-proxy(%s -> %s)", p.devicePath, p.addr)
}
