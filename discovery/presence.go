// Package discovery keeps the local view of other devices current: room
// members polled from the gateway and neighbours found on the LAN via
// mDNS.
package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomdrop/gateway"
	"roomdrop/models"
)

const (
	// DefaultPresenceInterval is the room device poll cadence.
	DefaultPresenceInterval = 3 * time.Second
	// DefaultFetchTimeout bounds one presence fetch.
	DefaultFetchTimeout = 10 * time.Second

	// EventDeviceUpserted is emitted when a device appears or changes.
	EventDeviceUpserted EventType = "device_upserted"
	// EventDeviceRemoved is emitted when a device disappears from a poll.
	EventDeviceRemoved EventType = "device_removed"
)

// EventType identifies device view updates.
type EventType string

// Event carries device updates for UI consumers.
type Event struct {
	Type   EventType
	Device models.Device
}

// DeviceFetchFunc fetches the room membership for one poll cycle.
type DeviceFetchFunc func(ctx context.Context) (*gateway.DeviceList, error)

// PresenceConfig controls the room presence poller.
type PresenceConfig struct {
	// LocalDeviceID is always excluded from the device view.
	LocalDeviceID string
	RoomCode      string

	Interval     time.Duration
	FetchTimeout time.Duration

	// InRoom gates each cycle; a false value makes the cycle a no-op.
	InRoom func() bool
	Fetch  DeviceFetchFunc

	Logger zerolog.Logger
}

func (c PresenceConfig) withDefaults() PresenceConfig {
	out := c
	if out.Interval <= 0 {
		out.Interval = DefaultPresenceInterval
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = DefaultFetchTimeout
	}
	if out.InRoom == nil {
		out.InRoom = func() bool { return true }
	}
	return out
}

// PresencePoller polls room membership on a fixed cadence and replaces
// the device snapshot wholesale each successful cycle. A fetch failure
// keeps the previous snapshot; staleness resolves itself on the next
// successful poll.
type PresencePoller struct {
	cfg    PresenceConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	devices map[string]models.Device

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPresencePoller creates a poller with defaults applied.
func NewPresencePoller(config PresenceConfig) (*PresencePoller, error) {
	cfg := config.withDefaults()
	if cfg.LocalDeviceID == "" {
		return nil, errors.New("local device ID is required")
	}
	if cfg.Fetch == nil {
		return nil, errors.New("fetch function is required")
	}

	return &PresencePoller{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "presence").Str("room_code", cfg.RoomCode).Logger(),
		devices: make(map[string]models.Device),
		events:  make(chan Event, 128),
	}, nil
}

// Start begins polling with one immediate cycle.
func (p *PresencePoller) Start() {
	p.startOnce.Do(func() {
		p.ctx, p.cancel = context.WithCancel(context.Background())
		p.wg.Add(1)
		go p.loop()
	})
}

// Stop cancels the poll timer. Safe to call more than once; the timer is
// torn down exactly once.
func (p *PresencePoller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		close(p.events)
	})
}

// Events provides asynchronous device view updates.
func (p *PresencePoller) Events() <-chan Event {
	return p.events
}

// Devices returns the current snapshot sorted by name.
func (p *PresencePoller) Devices() []models.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.Device, 0, len(p.devices))
	for _, device := range p.devices {
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

func (p *PresencePoller) loop() {
	defer p.wg.Done()

	// Prime the device view immediately on activation.
	p.runCycle()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runCycle()
		case <-p.ctx.Done():
			return
		}
	}
}

// runCycle may overlap with a previous slow cycle; applySnapshot is a full
// replace, so overlapping cycles stay idempotent.
func (p *PresencePoller) runCycle() {
	if !p.cfg.InRoom() {
		return
	}

	fetchCtx, cancel := context.WithTimeout(p.ctx, p.cfg.FetchTimeout)
	defer cancel()

	list, err := p.cfg.Fetch(fetchCtx)
	if err != nil {
		// Transient: keep the previous snapshot and keep polling.
		p.logger.Warn().Err(err).Msg("presence fetch failed")
		return
	}

	now := time.Now()
	next := make(map[string]models.Device, len(list.Devices))
	for _, info := range list.Devices {
		if info.ID == "" || info.ID == p.cfg.LocalDeviceID || info.ID == list.CurrentDeviceID {
			continue
		}
		device := models.Device{
			ID:       info.ID,
			Name:     info.Name,
			Type:     info.Type,
			Status:   models.StatusConnected,
			Location: models.LocationSameRoom,
			RoomCode: p.cfg.RoomCode,
			UserName: info.UserName,
			LastSeen: info.LastSeen,
		}
		if device.LastSeen.IsZero() {
			device.LastSeen = now
		}
		next[device.ID] = device
	}

	p.applySnapshot(next)
}

func (p *PresencePoller) applySnapshot(next map[string]models.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()

	previous := p.devices
	p.devices = next

	for id, device := range next {
		old, exists := previous[id]
		if !exists || !devicesEqual(old, device) {
			p.emitEvent(Event{Type: EventDeviceUpserted, Device: device})
		}
	}

	for id, device := range previous {
		if _, exists := next[id]; !exists {
			p.emitEvent(Event{Type: EventDeviceRemoved, Device: device})
		}
	}
}

func (p *PresencePoller) emitEvent(event Event) {
	select {
	case p.events <- event:
	default:
	}
}

func devicesEqual(a, b models.Device) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Type == b.Type &&
		a.Status == b.Status &&
		a.Location == b.Location &&
		a.RoomCode == b.RoomCode &&
		a.UserName == b.UserName
}

// MergeDevices combines room members and LAN neighbours into one view.
// Room membership wins when the same device shows up in both sources.
func MergeDevices(room, lan []models.Device) []models.Device {
	out := make([]models.Device, 0, len(room)+len(lan))
	seen := make(map[string]struct{}, len(room))

	for _, device := range room {
		out = append(out, device)
		seen[device.ID] = struct{}{}
	}
	for _, device := range lan {
		if _, exists := seen[device.ID]; exists {
			continue
		}
		out = append(out, device)
	}
	return out
}
