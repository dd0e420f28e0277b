package models

import "time"

// DeviceType is the closed device category enum used by the gateway.
type DeviceType string

const (
	DeviceTypeLaptop  DeviceType = "laptop"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
)

// ValidDeviceType reports whether t is one of the gateway's device types.
func ValidDeviceType(t DeviceType) bool {
	switch t {
	case DeviceTypeLaptop, DeviceTypeDesktop, DeviceTypeMobile, DeviceTypeTablet:
		return true
	}
	return false
}

// ConnectionStatus tracks room membership connectivity.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// DeviceLocation distinguishes room members from LAN neighbours.
type DeviceLocation string

const (
	LocationSameRoom DeviceLocation = "same_room"
	LocationNetwork  DeviceLocation = "network"
)

// Device is one remote device visible to the local user, either a room
// member reported by the gateway or an mDNS neighbour on the local network.
type Device struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Type     DeviceType       `json:"type"`
	Status   ConnectionStatus `json:"status"`
	Location DeviceLocation   `json:"location"`
	RoomCode string           `json:"room_code,omitempty"`
	UserName string           `json:"user_name,omitempty"`
	LastSeen time.Time        `json:"last_seen"`
}
