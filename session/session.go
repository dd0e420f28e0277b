// Package session owns the local user's identity and room membership. It
// drives room auto-provisioning, the join flow, and the degraded local
// fallback used when the coordination backend cannot be reached.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomdrop/gateway"
	"roomdrop/identity"
	"roomdrop/models"
)

// Gateway is the slice of the backend contract the session needs.
type Gateway interface {
	CreateRoom(ctx context.Context, deviceName string, deviceType models.DeviceType, username string) (*gateway.RoomInfo, error)
	JoinRoom(ctx context.Context, roomCode, deviceName string, deviceType models.DeviceType, username string) (*gateway.RoomInfo, error)
}

// Options configures a RoomSession.
type Options struct {
	Gateway    Gateway
	DeviceName string
	DeviceType models.DeviceType
	Username   string

	Logger zerolog.Logger

	// OnAdvisory receives non-blocking notices, e.g. the local-mode
	// advisory. OnError receives one-line action failures. Both may be nil.
	OnAdvisory func(message string)
	OnError    func(message string)

	// OnUsernameChange fires after SetUsername so callers can persist the
	// new name. May be nil.
	OnUsernameChange func(username string)
}

// RoomSession tracks connection status and room membership for the local
// device. One session exists per client lifetime.
type RoomSession struct {
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	status    models.ConnectionStatus
	userID    string
	roomCode  string
	username  string
	inRoom    bool
	localMode bool
	inFlight  bool
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	Status    models.ConnectionStatus
	UserID    string
	RoomCode  string
	Username  string
	InRoom    bool
	LocalMode bool
}

// New creates a disconnected session. An empty username is filled with a
// generated one.
func New(opts Options) (*RoomSession, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.DeviceName == "" {
		return nil, errors.New("device name is required")
	}
	if !models.ValidDeviceType(opts.DeviceType) {
		return nil, fmt.Errorf("invalid device type %q", opts.DeviceType)
	}

	username := opts.Username
	if username == "" {
		username = identity.GenerateUsername()
	}

	return &RoomSession{
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "session").Logger(),
		status:   models.StatusDisconnected,
		username: username,
	}, nil
}

// EnsureRoom creates a room if the session does not have one yet. A
// gateway failure is not surfaced as a hard error: the session falls back
// to a locally generated room code and reports the mandatory local-mode
// advisory instead.
func (s *RoomSession) EnsureRoom(ctx context.Context) {
	s.mu.Lock()
	if s.inRoom || s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.status = models.StatusConnecting
	deviceName, deviceType, username := s.opts.DeviceName, s.opts.DeviceType, s.username
	s.mu.Unlock()

	info, err := s.opts.Gateway.CreateRoom(ctx, deviceName, deviceType, username)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	if err != nil {
		s.logger.Warn().Err(err).Msg("room creation failed, entering local mode")
		s.roomCode = identity.GenerateRoomCode()
		s.userID = fmt.Sprintf("local-%d", time.Now().UnixMilli())
		s.inRoom = true
		s.localMode = true
		s.status = models.StatusConnected
		s.advise(fmt.Sprintf("Operating in local mode; others may join using code %s.", s.roomCode))
		return
	}

	s.roomCode = info.RoomCode
	s.userID = info.Device.ID
	s.inRoom = true
	s.localMode = false
	s.status = models.StatusConnected
	s.logger.Info().Str("room_code", s.roomCode).Str("device_id", s.userID).Msg("room created")
}

// JoinRoom joins an existing room by code. Unlike room creation there is
// no local fallback: a fabricated code cannot contain real peers, so a
// failure rolls the session back to its pre-join state and surfaces an
// error.
func (s *RoomSession) JoinRoom(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil
	}
	s.inFlight = true
	previous := Snapshot{
		Status:    s.status,
		UserID:    s.userID,
		RoomCode:  s.roomCode,
		InRoom:    s.inRoom,
		LocalMode: s.localMode,
	}
	s.status = models.StatusConnecting
	deviceName, deviceType, username := s.opts.DeviceName, s.opts.DeviceType, s.username
	s.mu.Unlock()

	info, err := s.opts.Gateway.JoinRoom(ctx, code, deviceName, deviceType, username)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	if err != nil {
		s.status = previous.Status
		s.userID = previous.UserID
		s.roomCode = previous.RoomCode
		s.inRoom = previous.InRoom
		s.localMode = previous.LocalMode
		if !s.inRoom {
			s.status = models.StatusDisconnected
		}
		message := fmt.Sprintf("Could not join room %s: %v", gateway.NormalizeRoomCode(code), err)
		s.logger.Error().Err(err).Str("room_code", code).Msg("join failed")
		s.fail(message)
		return fmt.Errorf("join room: %w", err)
	}

	s.roomCode = info.RoomCode
	s.userID = info.Device.ID
	s.inRoom = true
	s.localMode = false
	s.status = models.StatusConnected
	s.logger.Info().Str("room_code", s.roomCode).Str("device_id", s.userID).Msg("room joined")
	return nil
}

// SetUsername updates the display name. Membership is unaffected; the
// gateway sees the new name on the next create or join.
func (s *RoomSession) SetUsername(username string) {
	if username == "" {
		return
	}

	s.mu.Lock()
	s.username = username
	s.mu.Unlock()

	if s.opts.OnUsernameChange != nil {
		s.opts.OnUsernameChange(username)
	}
}

// InRoom reports active room membership. Polling loops gate on this.
func (s *RoomSession) InRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inRoom
}

// Current returns a consistent snapshot of the session state.
func (s *RoomSession) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:    s.status,
		UserID:    s.userID,
		RoomCode:  s.roomCode,
		Username:  s.username,
		InRoom:    s.inRoom,
		LocalMode: s.localMode,
	}
}

func (s *RoomSession) advise(message string) {
	if s.opts.OnAdvisory != nil {
		s.opts.OnAdvisory(message)
	}
}

func (s *RoomSession) fail(message string) {
	if s.opts.OnError != nil {
		s.opts.OnError(message)
	}
}
