package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"golang.org/x/sync/errgroup"
)

// DiscoveryMethod identifies how a bridge was found. Methods carry a
// priority so that results from more trustworthy sources win when
// several methods succeed.
type DiscoveryMethod string

const (
	MethodCloud  DiscoveryMethod = "cloud"
	MethodManual DiscoveryMethod = "manual"
	MethodMDNS   DiscoveryMethod = "mdns"
	MethodScan   DiscoveryMethod = "scan"
)

// priority orders methods; higher wins.
func (m DiscoveryMethod) priority() int {
	switch m {
	case MethodCloud:
		return 4
	case MethodManual:
		return 3
	case MethodMDNS:
		return 2
	case MethodScan:
		return 1
	}
	return 0
}

// Bridge is a discovered bridge candidate.
type Bridge struct {
	// Addr is the bridge address, host or host:port.
	Addr string
	// ID is the bridge's unique identifier, when known.
	ID string
	// Name is the user-assigned bridge name, when known.
	Name string
	// Model is the hardware model ID, e.g. "BSB002".
	Model string
	// Version is the bridge software version, when known.
	Version string
	// Port is the advertised port, 0 when unspecified.
	Port int
}

// DisplayName is a human-readable label for setup output.
func (b *Bridge) DisplayName() string {
	if b.Name != "" {
		return fmt.Sprintf("%s (%s)", b.Name, b.Addr)
	}
	if b.ID != "" {
		return fmt.Sprintf("%s (%s)", b.ID, b.Addr)
	}
	return b.Addr
}

// BridgeInfo converts the candidate to its wire representation.
func (b *Bridge) BridgeInfo() BridgeInfo {
	return BridgeInfo{
		ID:                b.ID,
		InternalIPAddress: b.Addr,
		Port:              b.Port,
		Name:              b.Name,
		ModelID:           b.Model,
		SWVersion:         b.Version,
	}
}

// DiscoveryResult groups the bridges found by a single method.
type DiscoveryResult struct {
	Bridges []Bridge
	Method  DiscoveryMethod
}

// Discovery finds Hue bridges on the network using several strategies:
// the Hue cloud lookup service, mDNS, and a last-resort subnet scan.
type Discovery struct {
	timeout time.Duration
	logger  *slog.Logger

	// endpoint is the cloud lookup URL, overridable in tests.
	endpoint string
	// prefixes overrides the scanned /24 prefixes when non-nil.
	prefixes []string
	// probeFn probes a single address, overridable in tests.
	probeFn func(ctx context.Context, addr string) *Bridge
	// mdnsQuery runs the mDNS query, overridable in tests.
	mdnsQuery func(params *mdns.QueryParam) error
}

// NewDiscovery creates a Discovery with the given per-method timeout.
func NewDiscovery(timeout time.Duration, logger *slog.Logger) *Discovery {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discovery{
		timeout:   timeout,
		logger:    logger,
		endpoint:  "https://discovery.meethue.com",
		mdnsQuery: mdns.Query,
	}
	d.probeFn = d.probeBridge
	return d
}

// DiscoverAll tries every method in priority order and returns the
// first one that yields bridges. Methods that error are logged and
// skipped; only a fully empty sweep is an error.
func (d *Discovery) DiscoverAll(ctx context.Context) (*DiscoveryResult, error) {
	methods := []struct {
		method DiscoveryMethod
		fn     func(context.Context) ([]Bridge, error)
	}{
		{MethodCloud, d.DiscoverCloud},
		{MethodMDNS, d.DiscoverMDNS},
		{MethodScan, d.DiscoverScan},
	}

	for _, m := range methods {
		bridges, err := m.fn(ctx)
		if err != nil {
			d.logger.Debug("discovery method failed", "method", m.method, "error", err)
			continue
		}
		if len(bridges) > 0 {
			d.logger.Debug("discovery found bridges", "method", m.method, "count", len(bridges))
			return &DiscoveryResult{Bridges: bridges, Method: m.method}, nil
		}
	}

	return nil, &Error{
		Kind:   KindNotFound,
		Op:     "discover bridges",
		Reason: "no Hue bridges found on the network",
	}
}

// DiscoverCloud queries the Hue cloud lookup service, which returns the
// bridges that have phoned home from this network.
func (d *Discovery) DiscoverCloud(ctx context.Context) (bridges []Bridge, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: KindDiscovery, Op: "cloud discovery", Reason: "building request", Err: err}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindDiscovery, Op: "cloud discovery", Reason: "request failed", Retryable: true, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:   KindDiscovery,
			Op:     "cloud discovery",
			Reason: fmt.Sprintf("lookup service returned status %d", resp.StatusCode),
		}
	}

	var records []BridgeInfo
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, &Error{Kind: KindParse, Op: "cloud discovery", Reason: "decoding response", Err: err}
	}

	for _, rec := range records {
		bridge := Bridge{Addr: rec.InternalIPAddress, ID: rec.ID, Port: rec.Port}
		d.enrichBridge(ctx, &bridge)
		bridges = append(bridges, bridge)
	}
	return bridges, nil
}

// DiscoverMDNS browses for _hue._tcp services on the local network.
func (d *Discovery) DiscoverMDNS(ctx context.Context) ([]Bridge, error) {
	var bridges []Bridge
	var mu sync.Mutex

	entriesCh := make(chan *mdns.ServiceEntry, 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entriesCh {
			if entry.AddrV4 == nil {
				continue
			}
			bridge := Bridge{
				Addr: entry.AddrV4.String(),
				Name: strings.TrimSuffix(entry.Name, "."),
				Port: entry.Port,
			}
			for _, txt := range entry.InfoFields {
				if strings.HasPrefix(txt, "bridgeid=") {
					bridge.ID = strings.TrimPrefix(txt, "bridgeid=")
				}
				if strings.HasPrefix(txt, "modelid=") {
					bridge.Model = strings.TrimPrefix(txt, "modelid=")
				}
			}
			mu.Lock()
			bridges = append(bridges, bridge)
			mu.Unlock()
		}
	}()

	params := mdns.DefaultParams("_hue._tcp")
	params.Entries = entriesCh
	params.Timeout = d.timeout
	params.DisableIPv6 = true

	err := d.mdnsQuery(params)
	close(entriesCh)
	<-done

	if err != nil {
		// The query can fail on one interface after delivering entries
		// from another. Entries in hand beat a clean error.
		if len(bridges) == 0 {
			return nil, &Error{Kind: KindDiscovery, Op: "mdns discovery", Reason: "query failed", Err: err}
		}
		d.logger.Warn("mdns query ended early, keeping partial results",
			"bridges", len(bridges), "error", err)
	}

	for i := range bridges {
		d.enrichBridge(ctx, &bridges[i])
	}
	return bridges, nil
}

// DiscoverScan probes common private /24 subnets for bridges. It is the
// slowest and least reliable method, used only when everything else
// comes up empty.
func (d *Discovery) DiscoverScan(ctx context.Context) ([]Bridge, error) {
	prefixes := d.prefixes
	if prefixes == nil {
		prefixes = localPrefixes()
	}

	var bridges []Bridge
	for _, prefix := range prefixes {
		found, err := d.scanPrefix(ctx, prefix)
		if err != nil {
			return bridges, err
		}
		bridges = append(bridges, found...)
		if len(bridges) > 0 {
			break
		}
	}
	return bridges, nil
}

// scanPrefix probes every host in a /24 concurrently.
func (d *Discovery) scanPrefix(ctx context.Context, prefix string) ([]Bridge, error) {
	scanCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	results := make([]*Bridge, 254)
	g, gctx := errgroup.WithContext(scanCtx)
	g.SetLimit(64)

	for i := 1; i <= 254; i++ {
		i := i
		g.Go(func() error {
			addr := fmt.Sprintf("%s.%d", prefix, i)
			results[i-1] = d.probeFn(gctx, addr)
			return nil
		})
	}
	// Workers never return errors, but Wait must run so results is
	// fully populated before reading.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var bridges []Bridge
	for _, b := range results {
		if b != nil {
			bridges = append(bridges, *b)
		}
	}
	return bridges, nil
}

// probeBridge checks whether addr answers like a Hue bridge. Returns
// nil on any failure; scan probes are expected to mostly miss.
func (d *Discovery) probeBridge(ctx context.Context, addr string) *Bridge {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/0/config", addr)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}

	var cfg BridgeConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil
	}
	if cfg.BridgeID == "" {
		return nil
	}
	return &Bridge{
		Addr:    addr,
		ID:      cfg.BridgeID,
		Name:    cfg.Name,
		Model:   cfg.ModelID,
		Version: cfg.SWVersion,
	}
}

// enrichBridge fills in name/model/version from the bridge itself.
// Enrichment is best effort: a candidate that will not answer keeps
// whatever metadata discovery provided.
func (d *Discovery) enrichBridge(ctx context.Context, bridge *Bridge) {
	probed := d.probeFn(ctx, bridge.Addr)
	if probed == nil {
		return
	}
	if bridge.ID == "" {
		bridge.ID = probed.ID
	}
	if bridge.Name == "" {
		bridge.Name = probed.Name
	}
	if bridge.Model == "" {
		bridge.Model = probed.Model
	}
	if bridge.Version == "" {
		bridge.Version = probed.Version
	}
}

// DiscoverManual validates a user-supplied address and confirms it is a
// bridge.
func (d *Discovery) DiscoverManual(ctx context.Context, addr string) (*Bridge, error) {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if net.ParseIP(host) == nil {
		return nil, &Error{
			Kind:   KindConfig,
			Op:     "manual discovery",
			Reason: fmt.Sprintf("%q is not a valid IP address", addr),
		}
	}

	bridge := d.probeFn(ctx, addr)
	if bridge == nil {
		return nil, &Error{
			Kind:   KindNotFound,
			Op:     "manual discovery",
			Reason: fmt.Sprintf("no Hue bridge responded at %s", addr),
		}
	}
	return bridge, nil
}

// SelectBestBridge picks the winning candidate among results from
// several methods: highest method priority first, then lowest address
// for determinism.
func SelectBestBridge(results []DiscoveryResult) *Bridge {
	var best *Bridge
	bestPriority := 0
	for i := range results {
		res := &results[i]
		if len(res.Bridges) == 0 {
			continue
		}
		sorted := make([]Bridge, len(res.Bridges))
		copy(sorted, res.Bridges)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a].Addr < sorted[b].Addr })
		if p := res.Method.priority(); p > bestPriority {
			bestPriority = p
			best = &sorted[0]
		}
	}
	return best
}

// staticPrefixes are the subnets scanned when no local interface gives
// a better answer.
var staticPrefixes = []string{"192.168.1", "192.168.0", "10.0.1", "172.16.0"}

// localPrefixes derives /24 prefixes from the host's own addresses,
// falling back to common private ranges.
func localPrefixes() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return staticPrefixes
	}

	var prefixes []string
	seen := make(map[string]bool)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || !ip.IsPrivate() {
				continue
			}
			prefix := fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2])
			if !seen[prefix] {
				seen[prefix] = true
				prefixes = append(prefixes, prefix)
			}
		}
	}
	if len(prefixes) == 0 {
		return staticPrefixes
	}
	return prefixes
}
