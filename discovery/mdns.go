package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"roomdrop/models"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_roomdrop._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultAdvertisePort is advertised when the client has no listener.
	DefaultAdvertisePort = 9
	// DefaultLANRefreshInterval is the background LAN browse interval.
	DefaultLANRefreshInterval = 10 * time.Second
	// DefaultScanTimeout bounds each LAN browse.
	DefaultScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// LANConfig controls mDNS broadcast and LAN scanning.
type LANConfig struct {
	Service         string
	Domain          string
	RefreshInterval time.Duration
	ScanTimeout     time.Duration

	SelfDeviceID string
	DeviceName   string
	DeviceType   models.DeviceType
	Username     string
	RoomCode     string

	Logger zerolog.Logger

	registerFn registerFunc
	browseFn   browseFunc
}

func (c LANConfig) withDefaults() LANConfig {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultLANRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// Broadcaster advertises local device presence on the LAN.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers the local device over mDNS.
func StartBroadcaster(config LANConfig) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.SelfDeviceID) == "" {
		return nil, errors.New("self device ID is required")
	}
	if strings.TrimSpace(cfg.DeviceName) == "" {
		return nil, errors.New("device name is required")
	}

	txt := []string{
		"device_id=" + cfg.SelfDeviceID,
		"device_type=" + string(cfg.DeviceType),
		"username=" + cfg.Username,
		"room_code=" + cfg.RoomCode,
	}

	server, err := cfg.registerFn(cfg.DeviceName, cfg.Service, cfg.Domain, DefaultAdvertisePort, txt, nil)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{server: server}, nil
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

// LANScanner discovers devices on the local network segment. Entries it
// yields carry LocationNetwork and never collide with room membership; a
// device present in both sources is shown as a room member.
type LANScanner struct {
	cfg    LANConfig
	logger zerolog.Logger

	browse browseFunc

	mu      sync.RWMutex
	devices map[string]models.Device

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLANScanner creates a scanner with defaults applied.
func NewLANScanner(config LANConfig) (*LANScanner, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.SelfDeviceID) == "" {
		return nil, errors.New("self device ID is required")
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &LANScanner{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "lan-scanner").Logger(),
		browse:  browse,
		devices: make(map[string]models.Device),
	}, nil
}

// Start begins background LAN scanning.
func (s *LANScanner) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop stops background scanning.
func (s *LANScanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Devices returns the current LAN neighbour snapshot sorted by name.
func (s *LANScanner) Devices() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Device, 0, len(s.devices))
	for _, device := range s.devices {
		out = append(out, device)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *LANScanner) loop() {
	defer s.wg.Done()

	s.runScan()

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runScan()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LANScanner) runScan() {
	scanCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]models.Device)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				device, ok := parseEntry(entry, s.cfg.SelfDeviceID)
				if !ok {
					continue
				}
				collectedMu.Lock()
				collected[device.ID] = device
				collectedMu.Unlock()
			}
		}
	}()

	if err := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries); err != nil {
		s.logger.Warn().Err(err).Msg("LAN browse failed")
		return
	}

	<-scanCtx.Done()
	<-collectorDone

	collectedMu.Lock()
	next := collected
	collectedMu.Unlock()

	s.mu.Lock()
	s.devices = next
	s.mu.Unlock()
}

func parseEntry(entry *zeroconf.ServiceEntry, selfDeviceID string) (models.Device, bool) {
	txt := txtToMap(entry.Text)

	deviceID := strings.TrimSpace(txt["device_id"])
	if deviceID == "" || deviceID == selfDeviceID {
		return models.Device{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		name = deviceID
	}

	deviceType := models.DeviceType(strings.TrimSpace(txt["device_type"]))
	if !models.ValidDeviceType(deviceType) {
		deviceType = models.DeviceTypeDesktop
	}

	return models.Device{
		ID:       deviceID,
		Name:     name,
		Type:     deviceType,
		Status:   models.StatusConnected,
		Location: models.LocationNetwork,
		RoomCode: strings.TrimSpace(txt["room_code"]),
		UserName: strings.TrimSpace(txt["username"]),
		LastSeen: time.Now(),
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
