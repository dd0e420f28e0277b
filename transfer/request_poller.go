package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomdrop/gateway"
	"roomdrop/models"
)

const (
	// DefaultRequestInterval is the inbound request poll cadence.
	DefaultRequestInterval = 2 * time.Second
	// DefaultRequestFetchTimeout bounds one request fetch.
	DefaultRequestFetchTimeout = 10 * time.Second
)

// RequestFetchFunc fetches pending inbound requests for one poll cycle.
type RequestFetchFunc func(ctx context.Context) ([]gateway.PendingRequest, error)

// RequestPollerConfig controls the inbound request poller.
type RequestPollerConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration

	// InRoom gates each cycle; a false value makes the cycle a no-op.
	InRoom func() bool
	Fetch  RequestFetchFunc

	Logger zerolog.Logger
}

func (c RequestPollerConfig) withDefaults() RequestPollerConfig {
	out := c
	if out.Interval <= 0 {
		out.Interval = DefaultRequestInterval
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = DefaultRequestFetchTimeout
	}
	if out.InRoom == nil {
		out.InRoom = func() bool { return true }
	}
	return out
}

// RequestPoller surfaces inbound transfer requests to a coordinator. The
// gateway's listing order decides which request is oldest; the first
// listed entry is offered. The coordinator's single current slot decides
// whether the offer sticks.
type RequestPoller struct {
	cfg         RequestPollerConfig
	logger      zerolog.Logger
	coordinator *Coordinator

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRequestPoller creates a poller feeding the given coordinator.
func NewRequestPoller(coordinator *Coordinator, config RequestPollerConfig) (*RequestPoller, error) {
	cfg := config.withDefaults()
	if coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if cfg.Fetch == nil {
		return nil, errors.New("fetch function is required")
	}

	return &RequestPoller{
		cfg:         cfg,
		logger:      cfg.Logger.With().Str("component", "request-poller").Logger(),
		coordinator: coordinator,
	}, nil
}

// Start begins polling. Unlike the presence poller there is no immediate
// first cycle; the first fetch happens one interval after activation.
func (p *RequestPoller) Start() {
	p.startOnce.Do(func() {
		p.ctx, p.cancel = context.WithCancel(context.Background())
		p.wg.Add(1)
		go p.loop()
	})
}

// Stop cancels the poll timer exactly once.
func (p *RequestPoller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

func (p *RequestPoller) loop() {
	defer p.wg.Done()

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

func (p *RequestPoller) runCycle() {
	if !p.cfg.InRoom() {
		return
	}

	fetchCtx, cancel := context.WithTimeout(p.ctx, p.cfg.FetchTimeout)
	defer cancel()

	requests, err := p.cfg.Fetch(fetchCtx)
	if err != nil {
		// Transient: the current request, if any, stays untouched.
		p.logger.Warn().Err(err).Msg("request fetch failed")
		return
	}
	if len(requests) == 0 {
		return
	}

	oldest := requests[0]
	p.coordinator.Offer(models.TransferRequest{
		ID:           oldest.ID,
		FileName:     oldest.FileName,
		FileSize:     oldest.FileSize,
		FromDevice:   oldest.FromDevice,
		FromUserName: oldest.FromUserName,
		RequestedAt:  oldest.RequestedAt,
		Status:       models.RequestPending,
	})
}
