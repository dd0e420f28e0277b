package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"roomdrop/gateway"
	"roomdrop/models"
)

func deviceList(currentID string, ids ...string) *gateway.DeviceList {
	list := &gateway.DeviceList{CurrentDeviceID: currentID}
	for _, id := range ids {
		list.Devices = append(list.Devices, gateway.DeviceInfo{
			ID:       id,
			Name:     "Device " + id,
			Type:     models.DeviceTypeLaptop,
			UserName: "user-" + id,
		})
	}
	return list
}

func startPresencePoller(t *testing.T, cfg PresenceConfig) *PresencePoller {
	t.Helper()

	poller, err := NewPresencePoller(cfg)
	if err != nil {
		t.Fatalf("NewPresencePoller failed: %v", err)
	}
	poller.Start()
	t.Cleanup(poller.Stop)
	return poller
}

func TestPresencePollerExcludesLocalDevice(t *testing.T) {
	poller := startPresencePoller(t, PresenceConfig{
		LocalDeviceID: "dev-1",
		RoomCode:      "ABCD-1234",
		Interval:      time.Hour,
		Fetch: func(ctx context.Context) (*gateway.DeviceList, error) {
			return deviceList("dev-1", "dev-1", "dev-2"), nil
		},
	})

	waitForCondition(t, time.Second, func() bool {
		devices := poller.Devices()
		return len(devices) == 1 && devices[0].ID == "dev-2"
	})

	devices := poller.Devices()
	if devices[0].Location != models.LocationSameRoom {
		t.Fatalf("expected same-room location, got %q", devices[0].Location)
	}
	if devices[0].Status != models.StatusConnected {
		t.Fatalf("expected connected status, got %q", devices[0].Status)
	}
	if devices[0].RoomCode != "ABCD-1234" {
		t.Fatalf("expected room code on mapped device, got %q", devices[0].RoomCode)
	}
}

func TestPresencePollerReplacesSnapshotWholesale(t *testing.T) {
	var calls int32
	poller := startPresencePoller(t, PresenceConfig{
		LocalDeviceID: "dev-1",
		Interval:      30 * time.Millisecond,
		Fetch: func(ctx context.Context) (*gateway.DeviceList, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return deviceList("dev-1", "dev-2", "dev-3"), nil
			}
			return deviceList("dev-1", "dev-4"), nil
		},
	})

	// Second poll returns a disjoint list; the view must equal exactly
	// that list, not the union.
	waitForCondition(t, 2*time.Second, func() bool {
		devices := poller.Devices()
		return len(devices) == 1 && devices[0].ID == "dev-4"
	})
}

func TestPresencePollerKeepsSnapshotOnFetchFailure(t *testing.T) {
	var calls int32
	poller := startPresencePoller(t, PresenceConfig{
		LocalDeviceID: "dev-1",
		Interval:      25 * time.Millisecond,
		Fetch: func(ctx context.Context) (*gateway.DeviceList, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return deviceList("dev-1", "dev-2"), nil
			}
			return nil, errors.New("gateway unavailable")
		},
	})

	waitForCondition(t, time.Second, func() bool {
		return len(poller.Devices()) == 1
	})

	// Polling keeps running through failures and the last good snapshot
	// stays visible.
	waitForCondition(t, time.Second, func() bool {
		return atomic.LoadInt32(&calls) >= 3
	})
	devices := poller.Devices()
	if len(devices) != 1 || devices[0].ID != "dev-2" {
		t.Fatalf("expected previous snapshot to survive fetch failures, got %+v", devices)
	}
}

func TestPresencePollerSkipsCyclesOutsideRoom(t *testing.T) {
	var calls int32
	var inRoom atomic.Bool

	startPresencePoller(t, PresenceConfig{
		LocalDeviceID: "dev-1",
		Interval:      20 * time.Millisecond,
		InRoom:        func() bool { return inRoom.Load() },
		Fetch: func(ctx context.Context) (*gateway.DeviceList, error) {
			atomic.AddInt32(&calls, 1)
			return deviceList("dev-1"), nil
		},
	})

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no fetches outside a room, got %d", got)
	}

	inRoom.Store(true)
	waitForCondition(t, time.Second, func() bool {
		return atomic.LoadInt32(&calls) > 0
	})
}

func TestPresencePollerEmitsRemovalEvents(t *testing.T) {
	var calls int32
	poller := startPresencePoller(t, PresenceConfig{
		LocalDeviceID: "dev-1",
		Interval:      25 * time.Millisecond,
		Fetch: func(ctx context.Context) (*gateway.DeviceList, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return deviceList("dev-1", "dev-2", "dev-3"), nil
			}
			return deviceList("dev-1", "dev-3"), nil
		},
	})

	if !waitForEvent(poller.Events(), EventDeviceRemoved, "dev-2", 2*time.Second) {
		t.Fatalf("expected removal event for dev-2")
	}
}

func TestMergeDevicesPrefersRoomMembership(t *testing.T) {
	room := []models.Device{
		{ID: "dev-2", Location: models.LocationSameRoom},
	}
	lan := []models.Device{
		{ID: "dev-2", Location: models.LocationNetwork},
		{ID: "dev-9", Location: models.LocationNetwork},
	}

	merged := MergeDevices(room, lan)
	if len(merged) != 2 {
		t.Fatalf("expected two devices after merge, got %+v", merged)
	}
	for _, device := range merged {
		if device.ID == "dev-2" && device.Location != models.LocationSameRoom {
			t.Fatalf("expected room entry to win for dev-2, got %q", device.Location)
		}
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}

func waitForEvent(events <-chan Event, eventType EventType, deviceID string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			if event.Type == eventType && event.Device.ID == deviceID {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
