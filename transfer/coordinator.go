// Package transfer governs the file-transfer lifecycle: the single-slot
// inbound request handshake, accepted-transfer progress through
// completion, failure, or cancellation, and the outbound send queue.
package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"roomdrop/gateway"
	"roomdrop/models"
	"roomdrop/storage"
)

// DefaultNominalSpeed seeds speed/remaining-time estimates; the gateway
// reports no throughput of its own.
const DefaultNominalSpeed int64 = 1 << 20

var (
	ErrNoCurrentRequest = errors.New("transfer: no current request")
	ErrUnknownFile      = errors.New("transfer: unknown queued file")
	ErrFileInFlight     = errors.New("transfer: file send is in flight")
	ErrNotQueued        = errors.New("transfer: file is not queued")
	ErrUnknownTransfer  = errors.New("transfer: unknown transfer")
	ErrNotFailed        = errors.New("transfer: transfer has not failed")
)

// Gateway is the slice of the backend contract the coordinator needs.
type Gateway interface {
	RespondToTransfer(ctx context.Context, requestID, response string) error
	RequestTransfer(ctx context.Context, deviceID string, file models.FileInfo) (string, error)
	DownloadFile(ctx context.Context, requestID string) ([]byte, string, error)
}

// HistoryStore records terminal transfer outcomes. May be absent.
type HistoryStore interface {
	RecordTransfer(record storage.TransferRecord) error
}

// Options configures a Coordinator.
type Options struct {
	Gateway       Gateway
	History       HistoryStore
	DownloadsDir  string
	LocalDeviceID string
	NominalSpeed  int64

	Logger zerolog.Logger

	// OnRequest fires when an inbound request becomes current. OnError
	// receives one-line action failures. Both may be nil.
	OnRequest func(request models.TransferRequest)
	OnError   func(message string)
}

// Coordinator owns the current inbound request, all materialized file
// transfers, and the outbound queue. One mutex guards all three; network
// calls happen outside it.
type Coordinator struct {
	opts   Options
	logger zerolog.Logger

	mu            sync.Mutex
	current       *models.TransferRequest
	queue         map[string]*models.QueuedFile
	queueOrder    []string
	transfers     map[string]*models.FileTransfer
	transferOrder []string

	downloads sync.WaitGroup
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.NominalSpeed <= 0 {
		opts.NominalSpeed = DefaultNominalSpeed
	}

	return &Coordinator{
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "transfer").Logger(),
		queue:     make(map[string]*models.QueuedFile),
		transfers: make(map[string]*models.FileTransfer),
	}, nil
}

// Close waits for in-flight downloads to settle.
func (c *Coordinator) Close() {
	c.downloads.Wait()
}

// Offer proposes an inbound request as current. The current slot holds at
// most one request; while it is occupied further offers are ignored and
// Offer reports false.
func (c *Coordinator) Offer(request models.TransferRequest) bool {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return false
	}
	request.Status = models.RequestPending
	c.current = &request
	c.mu.Unlock()

	c.logger.Info().Str("request_id", request.ID).Str("file_name", request.FileName).Msg("inbound request adopted")
	if c.opts.OnRequest != nil {
		c.opts.OnRequest(request)
	}
	return true
}

// CurrentRequest returns the pending inbound request, if any.
func (c *Coordinator) CurrentRequest() (models.TransferRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return models.TransferRequest{}, false
	}
	return *c.current, true
}

// Accept confirms the current inbound request with the gateway, then
// materializes a FileTransfer and starts the download. The download is
// initiated only after the accept response returns, so the gateway has
// registered the accept before the fetch begins. On a failed accept call
// the request stays current.
func (c *Coordinator) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return ErrNoCurrentRequest
	}
	request := *c.current
	c.mu.Unlock()

	if err := c.opts.Gateway.RespondToTransfer(ctx, request.ID, gateway.ResponseAccept); err != nil {
		c.logger.Error().Err(err).Str("request_id", request.ID).Msg("accept failed")
		c.fail(fmt.Sprintf("Could not accept %s: %v", request.FileName, err))
		return fmt.Errorf("accept request: %w", err)
	}

	transfer := models.FileTransfer{
		ID:            uuid.NewString(),
		RequestID:     request.ID,
		FileName:      request.FileName,
		FileSize:      request.FileSize,
		Status:        models.TransferUploading,
		Progress:      0,
		Speed:         c.opts.NominalSpeed,
		RemainingTime: remainingSeconds(request.FileSize, c.opts.NominalSpeed),
		FromDevice:    request.FromDevice,
		ToDevice:      c.opts.LocalDeviceID,
		AcceptedAt:    time.Now(),
	}

	c.mu.Lock()
	c.transfers[transfer.ID] = &transfer
	c.transferOrder = append(c.transferOrder, transfer.ID)
	c.current = nil
	c.mu.Unlock()

	c.startDownload(transfer.ID, request.ID)
	return nil
}

// Reject declines the current inbound request. The slot is cleared whether
// or not the gateway call succeeds; a failed reject is logged and not
// retried.
func (c *Coordinator) Reject(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return ErrNoCurrentRequest
	}
	request := *c.current
	c.current = nil
	c.mu.Unlock()

	if err := c.opts.Gateway.RespondToTransfer(ctx, request.ID, gateway.ResponseReject); err != nil {
		c.logger.Warn().Err(err).Str("request_id", request.ID).Msg("reject call failed")
		return fmt.Errorf("reject request: %w", err)
	}
	return nil
}

// Cancel stops a transfer that is still pending or moving. Calling it on
// a terminal transfer leaves the record unchanged and reports false.
func (c *Coordinator) Cancel(transferID string) bool {
	c.mu.Lock()
	transfer, ok := c.transfers[transferID]
	if !ok || !transfer.Status.Active() {
		c.mu.Unlock()
		return false
	}
	transfer.Status = models.TransferCancelled
	transfer.RemainingTime = 0
	record := c.historyRecord(transfer)
	c.mu.Unlock()

	c.recordHistory(record)
	return true
}

// Retry re-arms a failed transfer and re-invokes its download. Only FAILED
// transfers can be retried.
func (c *Coordinator) Retry(transferID string) error {
	c.mu.Lock()
	transfer, ok := c.transfers[transferID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownTransfer
	}
	if transfer.Status != models.TransferFailed {
		c.mu.Unlock()
		return ErrNotFailed
	}
	transfer.Status = models.TransferPending
	transfer.Progress = 0
	transfer.RemainingTime = remainingSeconds(transfer.FileSize, transfer.Speed)
	transfer.CompletedAt = time.Time{}
	requestID := transfer.RequestID
	c.mu.Unlock()

	c.startDownload(transferID, requestID)
	return nil
}

// Transfers returns all materialized transfers in creation order.
func (c *Coordinator) Transfers() []models.FileTransfer {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.FileTransfer, 0, len(c.transferOrder))
	for _, id := range c.transferOrder {
		out = append(out, *c.transfers[id])
	}
	return out
}

func (c *Coordinator) startDownload(transferID, requestID string) {
	c.downloads.Add(1)
	go func() {
		defer c.downloads.Done()
		c.runDownload(transferID, requestID)
	}()
}

func (c *Coordinator) runDownload(transferID, requestID string) {
	payload, name, err := c.opts.Gateway.DownloadFile(context.Background(), requestID)
	if err != nil {
		c.logger.Error().Err(err).Str("transfer_id", transferID).Msg("download failed")
		c.markFailed(transferID)
		c.fail(fmt.Sprintf("Download failed: %v", err))
		return
	}

	c.mu.Lock()
	transfer, ok := c.transfers[transferID]
	if !ok || !transfer.Status.Active() {
		// Cancelled while the download was in flight; drop the payload.
		c.mu.Unlock()
		return
	}
	fileName := transfer.FileName
	c.mu.Unlock()

	if name != "" {
		fileName = name
	}

	storedPath, err := c.savePayload(fileName, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("transfer_id", transferID).Msg("saving payload failed")
		c.markFailed(transferID)
		c.fail(fmt.Sprintf("Could not save %s: %v", fileName, err))
		return
	}

	sum := blake2b.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	c.mu.Lock()
	transfer, ok = c.transfers[transferID]
	if !ok || !transfer.Status.Active() {
		c.mu.Unlock()
		os.Remove(storedPath)
		return
	}
	transfer.Status = models.TransferCompleted
	transfer.Progress = 100
	transfer.RemainingTime = 0
	transfer.StoredPath = storedPath
	transfer.Checksum = checksum
	transfer.CompletedAt = time.Now()
	record := c.historyRecord(transfer)
	c.mu.Unlock()

	c.logger.Info().Str("transfer_id", transferID).Str("path", storedPath).Msg("transfer completed")
	c.recordHistory(record)
}

func (c *Coordinator) markFailed(transferID string) {
	c.mu.Lock()
	transfer, ok := c.transfers[transferID]
	if !ok || !transfer.Status.Active() {
		c.mu.Unlock()
		return
	}
	transfer.Status = models.TransferFailed
	transfer.RemainingTime = 0
	record := c.historyRecord(transfer)
	c.mu.Unlock()

	c.recordHistory(record)
}

func (c *Coordinator) savePayload(fileName string, payload []byte) (string, error) {
	dir := c.opts.DownloadsDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create downloads directory: %w", err)
	}

	target := uniquePath(dir, filepath.Base(fileName))
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	return target, nil
}

func (c *Coordinator) historyRecord(transfer *models.FileTransfer) storage.TransferRecord {
	return storage.TransferRecord{
		TransferID: transfer.ID,
		RequestID:  transfer.RequestID,
		FileName:   transfer.FileName,
		FileSize:   transfer.FileSize,
		Direction:  storage.DirectionReceive,
		PeerDevice: transfer.FromDevice,
		Status:     string(transfer.Status),
		Checksum:   transfer.Checksum,
		StoredPath: transfer.StoredPath,
	}
}

func (c *Coordinator) recordHistory(record storage.TransferRecord) {
	if c.opts.History == nil {
		return
	}
	if err := c.opts.History.RecordTransfer(record); err != nil {
		c.logger.Warn().Err(err).Str("transfer_id", record.TransferID).Msg("recording history failed")
	}
}

func (c *Coordinator) fail(message string) {
	if c.opts.OnError != nil {
		c.opts.OnError(message)
	}
}

func remainingSeconds(size, speed int64) int64 {
	if speed <= 0 {
		return 0
	}
	return (size + speed - 1) / speed
}

func uniquePath(dir, name string) string {
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return target
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
