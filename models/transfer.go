package models

import "time"

// RequestStatus is the lifecycle of an inbound transfer offer.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// TransferRequest is a sender's offer to deliver one file to the local
// device. At most one request is held as "current" at a time; further
// pending requests stay invisible until the current one is resolved.
type TransferRequest struct {
	ID           string        `json:"id"`
	FileName     string        `json:"file_name"`
	FileSize     int64         `json:"file_size"`
	FromDevice   string        `json:"from_device"`
	FromUserName string        `json:"from_user_name"`
	RequestedAt  time.Time     `json:"requested_at"`
	Status       RequestStatus `json:"status"`
}

// QueuedFileStatus is the outbound send lifecycle.
type QueuedFileStatus string

const (
	FileQueued  QueuedFileStatus = "queued"
	FileSending QueuedFileStatus = "sending"
	FileSent    QueuedFileStatus = "sent"
)

// FileInfo carries the metadata and on-disk location of a file chosen for
// sending. Size is captured at enqueue time.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"path"`
}

// QueuedFile is one file the user picked for sending, before or after a
// target device is chosen.
type QueuedFile struct {
	ID             string           `json:"id"`
	File           FileInfo         `json:"file"`
	Status         QueuedFileStatus `json:"status"`
	AddedAt        time.Time        `json:"added_at"`
	TargetDeviceID string           `json:"target_device_id,omitempty"`
	TransferID     string           `json:"transfer_id,omitempty"`
}

// TransferStatus is the lifecycle of a materialized file transfer.
type TransferStatus string

const (
	TransferPending     TransferStatus = "pending"
	TransferUploading   TransferStatus = "uploading"
	TransferDownloading TransferStatus = "downloading"
	TransferCompleted   TransferStatus = "completed"
	TransferFailed      TransferStatus = "failed"
	TransferCancelled   TransferStatus = "cancelled"
)

// Active reports whether the transfer can still be cancelled.
func (s TransferStatus) Active() bool {
	switch s {
	case TransferPending, TransferUploading, TransferDownloading:
		return true
	}
	return false
}

// FileTransfer tracks one accepted inbound transfer from acceptance through
// completion, failure, or cancellation.
type FileTransfer struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"request_id"`
	FileName      string         `json:"file_name"`
	FileSize      int64          `json:"file_size"`
	Status        TransferStatus `json:"status"`
	Progress      int            `json:"progress"`
	Speed         int64          `json:"speed"`
	RemainingTime int64          `json:"remaining_time"`
	FromDevice    string         `json:"from_device"`
	ToDevice      string         `json:"to_device"`
	StoredPath    string         `json:"stored_path,omitempty"`
	Checksum      string         `json:"checksum,omitempty"`
	AcceptedAt    time.Time      `json:"accepted_at,omitempty"`
	CompletedAt   time.Time      `json:"completed_at,omitempty"`
}
