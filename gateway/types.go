package gateway

import (
	"fmt"
	"time"

	"roomdrop/models"
)

const (
	// ResponseAccept accepts an inbound transfer request.
	ResponseAccept = "accept"
	// ResponseReject declines an inbound transfer request.
	ResponseReject = "reject"
)

// DeviceInfo is a device entry as reported by the gateway.
type DeviceInfo struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Type     models.DeviceType `json:"type"`
	UserName string            `json:"user_name"`
	LastSeen time.Time         `json:"last_seen"`
}

// RoomInfo is the gateway's answer to a room create or join.
type RoomInfo struct {
	RoomCode string     `json:"room_code"`
	Device   DeviceInfo `json:"device"`
}

// DeviceList is the full membership of a room at one poll instant.
type DeviceList struct {
	Devices         []DeviceInfo `json:"devices"`
	CurrentDeviceID string       `json:"current_device_id"`
}

// PendingRequest is an unresolved inbound transfer offer.
type PendingRequest struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	FileSize     int64     `json:"file_size"`
	FromDevice   string    `json:"from_device"`
	FromUserName string    `json:"from_user_name"`
	RequestedAt  time.Time `json:"requested_at"`
}

type registerRequest struct {
	DeviceName string            `json:"device_name"`
	DeviceType models.DeviceType `json:"device_type"`
	Username   string            `json:"username"`
}

type respondRequest struct {
	Response string `json:"response"`
}

type pendingRequestsResponse struct {
	Requests []PendingRequest `json:"requests"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx gateway reply.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}
