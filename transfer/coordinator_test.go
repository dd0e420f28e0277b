package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"roomdrop/gateway"
	"roomdrop/models"
)

type fakeGateway struct {
	respondFn  func(ctx context.Context, requestID, response string) error
	transferFn func(ctx context.Context, deviceID string, file models.FileInfo) (string, error)
	downloadFn func(ctx context.Context, requestID string) ([]byte, string, error)
}

func (f *fakeGateway) RespondToTransfer(ctx context.Context, requestID, response string) error {
	if f.respondFn == nil {
		return nil
	}
	return f.respondFn(ctx, requestID, response)
}

func (f *fakeGateway) RequestTransfer(ctx context.Context, deviceID string, file models.FileInfo) (string, error) {
	if f.transferFn == nil {
		return "tr-1", nil
	}
	return f.transferFn(ctx, deviceID, file)
}

func (f *fakeGateway) DownloadFile(ctx context.Context, requestID string) ([]byte, string, error) {
	if f.downloadFn == nil {
		return []byte("payload"), "", nil
	}
	return f.downloadFn(ctx, requestID)
}

func newTestCoordinator(t *testing.T, gw Gateway) *Coordinator {
	t.Helper()

	coordinator, err := NewCoordinator(Options{
		Gateway:       gw,
		DownloadsDir:  t.TempDir(),
		LocalDeviceID: "dev-local",
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	t.Cleanup(coordinator.Close)
	return coordinator
}

func pendingRequest(id string) models.TransferRequest {
	return models.TransferRequest{
		ID:           id,
		FileName:     "report.pdf",
		FileSize:     2_000_000,
		FromDevice:   "dev-2",
		FromUserName: "SunnyLynx4",
		RequestedAt:  time.Now(),
	}
}

func TestOfferHoldsSingleRequest(t *testing.T) {
	coordinator := newTestCoordinator(t, &fakeGateway{})

	if !coordinator.Offer(pendingRequest("req-1")) {
		t.Fatalf("expected first offer to be adopted")
	}
	if coordinator.Offer(pendingRequest("req-2")) {
		t.Fatalf("expected second offer to be ignored while one is current")
	}

	current, ok := coordinator.CurrentRequest()
	if !ok || current.ID != "req-1" {
		t.Fatalf("expected req-1 to stay current, got %+v ok=%v", current, ok)
	}
}

func TestAcceptMaterializesTransferAndCompletesDownload(t *testing.T) {
	var responded, downloadStarted bool
	gw := &fakeGateway{
		respondFn: func(ctx context.Context, requestID, response string) error {
			if response != gateway.ResponseAccept {
				t.Errorf("expected accept response, got %q", response)
			}
			responded = true
			return nil
		},
		downloadFn: func(ctx context.Context, requestID string) ([]byte, string, error) {
			if !responded {
				t.Errorf("download must not start before the accept response returns")
			}
			downloadStarted = true
			return []byte("pdf-bytes"), "report.pdf", nil
		},
	}
	coordinator := newTestCoordinator(t, gw)
	coordinator.Offer(pendingRequest("req-1"))

	if err := coordinator.Accept(context.Background()); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	if _, ok := coordinator.CurrentRequest(); ok {
		t.Fatalf("expected current request to be cleared after accept")
	}

	transfers := coordinator.Transfers()
	if len(transfers) != 1 {
		t.Fatalf("expected one materialized transfer, got %d", len(transfers))
	}
	created := transfers[0]
	if created.Status != models.TransferUploading && created.Status != models.TransferCompleted {
		t.Fatalf("expected uploading (or already completed) status, got %q", created.Status)
	}
	if created.Speed <= 0 || created.RemainingTime <= 0 && created.Status == models.TransferUploading {
		t.Fatalf("expected synthesized speed and remaining time, got %+v", created)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		done := coordinator.Transfers()[0]
		return done.Status == models.TransferCompleted
	})

	done := coordinator.Transfers()[0]
	if done.Progress != 100 || done.RemainingTime != 0 {
		t.Fatalf("expected completed transfer with full progress, got %+v", done)
	}
	if done.CompletedAt.IsZero() || done.Checksum == "" {
		t.Fatalf("expected completion metadata, got %+v", done)
	}
	if !downloadStarted {
		t.Fatalf("expected the download to run")
	}

	payload, err := os.ReadFile(done.StoredPath)
	if err != nil {
		t.Fatalf("read saved payload: %v", err)
	}
	if string(payload) != "pdf-bytes" {
		t.Fatalf("unexpected saved payload %q", payload)
	}
	if filepath.Base(done.StoredPath) != "report.pdf" {
		t.Fatalf("expected payload saved under its file name, got %q", done.StoredPath)
	}
}

func TestAcceptFailureKeepsRequestCurrent(t *testing.T) {
	var reported string
	gw := &fakeGateway{
		respondFn: func(ctx context.Context, requestID, response string) error {
			return errors.New("gateway down")
		},
	}
	coordinator := newTestCoordinator(t, gw)
	coordinator.opts.OnError = func(message string) { reported = message }
	coordinator.Offer(pendingRequest("req-1"))

	if err := coordinator.Accept(context.Background()); err == nil {
		t.Fatalf("expected accept failure to surface")
	}

	if _, ok := coordinator.CurrentRequest(); !ok {
		t.Fatalf("expected request to stay current after failed accept")
	}
	if len(coordinator.Transfers()) != 0 {
		t.Fatalf("expected no transfer after failed accept")
	}
	if reported == "" {
		t.Fatalf("expected user-visible accept error")
	}
}

func TestDownloadFailureMarksTransferFailed(t *testing.T) {
	gw := &fakeGateway{
		downloadFn: func(ctx context.Context, requestID string) ([]byte, string, error) {
			return nil, "", errors.New("stream interrupted")
		},
	}
	coordinator := newTestCoordinator(t, gw)
	coordinator.Offer(pendingRequest("req-1"))

	if err := coordinator.Accept(context.Background()); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return coordinator.Transfers()[0].Status == models.TransferFailed
	})

	// The failed transfer stays listed for inspection; no auto-retry.
	failed := coordinator.Transfers()[0]
	if failed.Status != models.TransferFailed {
		t.Fatalf("expected failed status, got %q", failed.Status)
	}
}

func TestRejectClearsCurrentEvenOnGatewayFailure(t *testing.T) {
	gw := &fakeGateway{
		respondFn: func(ctx context.Context, requestID, response string) error {
			if response != gateway.ResponseReject {
				t.Errorf("expected reject response, got %q", response)
			}
			return errors.New("gateway down")
		},
	}
	coordinator := newTestCoordinator(t, gw)
	coordinator.Offer(pendingRequest("req-1"))

	if err := coordinator.Reject(context.Background()); err == nil {
		t.Fatalf("expected reject error to be reported")
	}

	if _, ok := coordinator.CurrentRequest(); ok {
		t.Fatalf("expected current request to be cleared regardless of reject outcome")
	}

	// The slot is free again for the next pending request.
	if !coordinator.Offer(pendingRequest("req-2")) {
		t.Fatalf("expected slot to accept a new request after reject")
	}
}

func TestCancelOnlyAffectsActiveTransfers(t *testing.T) {
	block := make(chan struct{})
	gw := &fakeGateway{
		downloadFn: func(ctx context.Context, requestID string) ([]byte, string, error) {
			<-block
			return []byte("late"), "", nil
		},
	}
	coordinator := newTestCoordinator(t, gw)
	coordinator.Offer(pendingRequest("req-1"))
	if err := coordinator.Accept(context.Background()); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	transferID := coordinator.Transfers()[0].ID
	if !coordinator.Cancel(transferID) {
		t.Fatalf("expected cancel of an active transfer to succeed")
	}
	if got := coordinator.Transfers()[0].Status; got != models.TransferCancelled {
		t.Fatalf("expected cancelled status, got %q", got)
	}

	// Cancel on a terminal transfer leaves it unchanged.
	if coordinator.Cancel(transferID) {
		t.Fatalf("expected cancel of a cancelled transfer to be a no-op")
	}
	if got := coordinator.Transfers()[0].Status; got != models.TransferCancelled {
		t.Fatalf("expected status to stay cancelled, got %q", got)
	}

	close(block)
	coordinator.Close()

	// The late download result must not resurrect the cancelled transfer.
	if got := coordinator.Transfers()[0].Status; got != models.TransferCancelled {
		t.Fatalf("expected cancelled transfer to stay cancelled after late download, got %q", got)
	}
}

func TestRetryReArmsAndReRunsFailedTransfer(t *testing.T) {
	var attempts int
	gw := &fakeGateway{
		downloadFn: func(ctx context.Context, requestID string) ([]byte, string, error) {
			attempts++
			if attempts == 1 {
				return nil, "", errors.New("stream interrupted")
			}
			return []byte("payload"), "", nil
		},
	}
	coordinator := newTestCoordinator(t, gw)
	coordinator.Offer(pendingRequest("req-1"))
	if err := coordinator.Accept(context.Background()); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return coordinator.Transfers()[0].Status == models.TransferFailed
	})

	transferID := coordinator.Transfers()[0].ID
	if err := coordinator.Retry(transferID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return coordinator.Transfers()[0].Status == models.TransferCompleted
	})
	if attempts != 2 {
		t.Fatalf("expected retry to re-invoke the download, got %d attempts", attempts)
	}

	// Retry is only legal from FAILED.
	if err := coordinator.Retry(transferID); !errors.Is(err, ErrNotFailed) {
		t.Fatalf("expected ErrNotFailed for completed transfer, got %v", err)
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
