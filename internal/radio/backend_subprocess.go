package radio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// subprocessBackend is the production RadioBackend: it shells out to the
// standard Linux wireless toolchain (spec §1: "the wrappers around
// hostapd/dnsmasq/wpa_supplicant/iw/dhcpcd ... core defines the state
// they must deliver, not how"). Every method is a thin, context-
// cancellable wrapper; the Arbiter owns all the state-machine logic.
type subprocessBackend struct {
	log       zerolog.Logger
	iface     string
	runDir    string
	dhcpTools []string // tried in order: dhcpcd, dhclient, udhcpc
}

// NewSubprocessBackend builds a RadioBackend driving the named wireless
// interface, writing scratch config (hostapd.conf, wpa_supplicant.conf,
// dnsmasq.conf) under runDir.
func NewSubprocessBackend(iface, runDir string, log zerolog.Logger) RadioBackend {
	return &subprocessBackend{
		log:       log.With().Str("component", "radio_backend").Str("iface", iface).Logger(),
		iface:     iface,
		runDir:    runDir,
		dhcpTools: []string{"dhcpcd", "dhclient", "udhcpc"},
	}
}

func (b *subprocessBackend) StartAP(ctx context.Context, cfg APConfig) error {
	hostapdConf := filepath.Join(b.runDir, "hostapd.conf")
	dnsmasqConf := filepath.Join(b.runDir, "dnsmasq.conf")

	if err := os.WriteFile(hostapdConf, []byte(fmt.Sprintf(
		"interface=%s\ndriver=nl80211\nssid=%s\nchannel=%d\nwpa=2\nwpa_passphrase=%s\n",
		b.iface, cfg.SSID, cfg.Channel, cfg.Pass)), 0o600); err != nil {
		return fmt.Errorf("write hostapd.conf: %w", err)
	}
	if err := os.WriteFile(dnsmasqConf, []byte(fmt.Sprintf(
		"interface=%s\ndhcp-range=%s,%s,1h\n",
		b.iface, cfg.LeaseRange[0], cfg.LeaseRange[1])), 0o600); err != nil {
		return fmt.Errorf("write dnsmasq.conf: %w", err)
	}

	if err := b.run(ctx, "ip", "addr", "add", cfg.IP+"/24", "dev", b.iface); err != nil {
		b.log.Warn().Err(err).Msg("ip addr add (may already be set)")
	}
	if err := b.runBackground(ctx, "hostapd", hostapdConf); err != nil {
		return fmt.Errorf("start hostapd: %w", err)
	}
	if err := b.runBackground(ctx, "dnsmasq", "-C", dnsmasqConf, "-d"); err != nil {
		return fmt.Errorf("start dnsmasq: %w", err)
	}
	return nil
}

func (b *subprocessBackend) StopAP(ctx context.Context) error {
	b.killAll(ctx, "hostapd", "dnsmasq")
	return nil
}

func (b *subprocessBackend) JoinSTA(ctx context.Context, ssid, pass string, timeout time.Duration) (JoinResult, error) {
	ctrlIface := filepath.Join(b.runDir, "wpa_ctrl")
	supplicantConf := filepath.Join(b.runDir, "wpa_supplicant.conf")

	os.RemoveAll(ctrlIface) // clear any stale control socket before launching

	conf := fmt.Sprintf("ctrl_interface=%s\nnetwork={\n  ssid=\"%s\"\n", ctrlIface, ssid)
	if pass != "" {
		conf += fmt.Sprintf("  psk=\"%s\"\n", pass)
	} else {
		conf += "  key_mgmt=NONE\n"
	}
	conf += "}\n"
	if err := os.WriteFile(supplicantConf, []byte(conf), 0o600); err != nil {
		return JoinResult{}, fmt.Errorf("write wpa_supplicant.conf: %w", err)
	}

	if err := b.runBackground(ctx, "wpa_supplicant", "-i", b.iface, "-c", supplicantConf); err != nil {
		return JoinResult{}, fmt.Errorf("start wpa_supplicant: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		out, _ := exec.CommandContext(ctx, "wpa_cli", "-i", b.iface, "status").Output()
		if strings.Contains(string(out), "wpa_state=COMPLETED") {
			return b.acquireLease(ctx)
		}
		time.Sleep(500 * time.Millisecond)
	}
	b.killAll(ctx, "wpa_supplicant")
	return JoinResult{}, fmt.Errorf("wpa_state never reached COMPLETED within %s", timeout)
}

func (b *subprocessBackend) acquireLease(ctx context.Context) (JoinResult, error) {
	for _, tool := range b.dhcpTools {
		if _, err := exec.LookPath(tool); err != nil {
			continue
		}
		if err := b.run(ctx, tool, b.iface); err != nil {
			continue
		}
		ip, gw, err := b.readAssignedAddress(ctx)
		if err == nil {
			return JoinResult{IP: ip, Gateway: gw}, nil
		}
	}
	return JoinResult{}, fmt.Errorf("no dhcp client (%s) succeeded", strings.Join(b.dhcpTools, "/"))
}

func (b *subprocessBackend) readAssignedAddress(ctx context.Context) (ip, gw string, err error) {
	out, err := exec.CommandContext(ctx, "ip", "-4", "addr", "show", b.iface).Output()
	if err != nil {
		return "", "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "inet ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				ip = strings.SplitN(fields[1], "/", 2)[0]
			}
		}
	}
	gwOut, err := exec.CommandContext(ctx, "ip", "route", "show", "dev", b.iface).Output()
	if err == nil {
		for _, line := range strings.Split(string(gwOut), "\n") {
			if strings.HasPrefix(line, "default via ") {
				fields := strings.Fields(line)
				if len(fields) >= 3 {
					gw = fields[2]
				}
			}
		}
	}
	if ip == "" {
		return "", "", fmt.Errorf("no ipv4 address assigned to %s", b.iface)
	}
	return ip, gw, nil
}

func (b *subprocessBackend) LeaveSTA(ctx context.Context) error {
	b.killAll(ctx, "wpa_supplicant")
	for _, tool := range b.dhcpTools {
		b.killAll(ctx, tool)
	}
	return nil
}

func (b *subprocessBackend) Scan(ctx context.Context) ([]ScanResult, error) {
	out, err := exec.CommandContext(ctx, "iw", "dev", b.iface, "scan").Output()
	if err != nil {
		return nil, fmt.Errorf("iw scan: %w", err)
	}
	results := parseIwScan(out)
	sort.Slice(results, func(i, j int) bool { return results[i].Signal > results[j].Signal })
	return results, nil
}

func parseIwScan(out []byte) []ScanResult {
	var results []ScanResult
	var cur ScanResult
	have := false
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "BSS "):
			if have {
				results = append(results, cur)
			}
			cur = ScanResult{}
			have = true
		case strings.HasPrefix(line, "signal:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				f, _ := strconv.ParseFloat(fields[1], 64)
				cur.Signal = int(f)
			}
		case strings.HasPrefix(line, "SSID:"):
			cur.SSID = strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
		case strings.HasPrefix(line, "DS Parameter set: channel"):
			fields := strings.Fields(line)
			if len(fields) > 0 {
				ch, _ := strconv.Atoi(fields[len(fields)-1])
				cur.Channel = ch
			}
		}
	}
	if have {
		results = append(results, cur)
	}
	return results
}

func (b *subprocessBackend) DoRelay(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return HTTPResponse{}, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return HTTPResponse{}, err
	}
	defer resp.Body.Close()

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if readErr != nil {
			break
		}
	}
	return HTTPResponse{StatusCode: resp.StatusCode, Headers: headers, Body: body}, nil
}

func (b *subprocessBackend) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, string(out))
	}
	return nil
}

func (b *subprocessBackend) runBackground(ctx context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	go cmd.Wait() // reap without blocking the caller
	return nil
}

func (b *subprocessBackend) killAll(ctx context.Context, names ...string) {
	for _, name := range names {
		if err := exec.CommandContext(ctx, "pkill", "-f", name).Run(); err != nil {
			b.log.Debug().Err(err).Str("process", name).Msg("pkill (likely not running)")
		}
	}
}
