package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"roomdrop/models"
	"roomdrop/storage"
)

// Enqueue adds files chosen by the user to the outbound queue. Each file
// gets its own entry; targets are picked later, per file.
func (c *Coordinator) Enqueue(files []models.FileInfo) []models.QueuedFile {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.QueuedFile, 0, len(files))
	for _, file := range files {
		queued := &models.QueuedFile{
			ID:      uuid.NewString(),
			File:    file,
			Status:  models.FileQueued,
			AddedAt: now,
		}
		c.queue[queued.ID] = queued
		c.queueOrder = append(c.queueOrder, queued.ID)
		out = append(out, *queued)
	}
	return out
}

// EnqueuePaths stats each path and enqueues the resulting files.
func (c *Coordinator) EnqueuePaths(paths []string) ([]models.QueuedFile, error) {
	files := make([]models.FileInfo, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%q is a directory", path)
		}
		files = append(files, models.FileInfo{
			Name: filepath.Base(path),
			Size: info.Size(),
			Path: path,
		})
	}
	return c.Enqueue(files), nil
}

// QueuedFiles returns the outbound queue in insertion order.
func (c *Coordinator) QueuedFiles() []models.QueuedFile {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.QueuedFile, 0, len(c.queueOrder))
	for _, id := range c.queueOrder {
		out = append(out, *c.queue[id])
	}
	return out
}

// Send offers one queued file to a target device. The entry moves to
// "sending" before the gateway call and can only reach "sent" through it;
// a failed call rolls the entry back to "queued" with no target so the
// user can pick again.
func (c *Coordinator) Send(ctx context.Context, fileID, deviceID string) error {
	c.mu.Lock()
	queued, ok := c.queue[fileID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownFile
	}
	if queued.Status != models.FileQueued {
		c.mu.Unlock()
		return ErrNotQueued
	}
	queued.Status = models.FileSending
	queued.TargetDeviceID = deviceID
	file := queued.File
	c.mu.Unlock()

	transferID, err := c.opts.Gateway.RequestTransfer(ctx, deviceID, file)

	c.mu.Lock()
	queued, ok = c.queue[fileID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		queued.Status = models.FileQueued
		queued.TargetDeviceID = ""
		c.mu.Unlock()

		c.logger.Error().Err(err).Str("file_id", fileID).Str("device_id", deviceID).Msg("send failed")
		c.fail(fmt.Sprintf("Could not send %s: %v", file.Name, err))
		return fmt.Errorf("send file: %w", err)
	}

	queued.Status = models.FileSent
	queued.TransferID = transferID
	record := storage.TransferRecord{
		TransferID: transferID,
		FileName:   file.Name,
		FileSize:   file.Size,
		Direction:  storage.DirectionSend,
		PeerDevice: deviceID,
		Status:     "sent",
	}
	c.mu.Unlock()

	c.logger.Info().Str("file_id", fileID).Str("transfer_id", transferID).Msg("file sent")
	c.recordHistory(record)
	return nil
}

// Remove drops a queued or sent file from the queue. A file whose send is
// in flight cannot be removed; its state is left unchanged.
func (c *Coordinator) Remove(fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	queued, ok := c.queue[fileID]
	if !ok {
		return ErrUnknownFile
	}
	if queued.Status == models.FileSending {
		return ErrFileInFlight
	}

	delete(c.queue, fileID)
	for i, id := range c.queueOrder {
		if id == fileID {
			c.queueOrder = append(c.queueOrder[:i], c.queueOrder[i+1:]...)
			break
		}
	}
	return nil
}
