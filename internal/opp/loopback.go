package opp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// LoopbackOptions configures the simulated transfer pace.
type LoopbackOptions struct {
	ChunkSize int64         // bytes reported per progress step
	Interval  time.Duration // delay between progress steps
}

// DefaultLoopbackOptions returns a pace that is visible in the UI.
func DefaultLoopbackOptions() LoopbackOptions {
	return LoopbackOptions{
		ChunkSize: 32 * 1024,
		Interval:  50 * time.Millisecond,
	}
}

// LoopbackDriver simulates an OPP stack in-process. Sends read nothing over
// the air; they stat the file and report progress in ChunkSize steps.
type LoopbackDriver struct {
	opts LoopbackOptions

	mu      sync.Mutex
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Compile-time check that LoopbackDriver implements Driver.
var _ Driver = (*LoopbackDriver)(nil)

// NewLoopbackDriver creates a LoopbackDriver.
func NewLoopbackDriver(opts LoopbackOptions) *LoopbackDriver {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultLoopbackOptions().ChunkSize
	}
	return &LoopbackDriver{opts: opts}
}

func (d *LoopbackDriver) Init(h Handler) error {
	if h == nil {
		return errors.New("opp: loopback: nil handler")
	}
	d.mu.Lock()
	if d.handler != nil {
		d.mu.Unlock()
		return errors.New("opp: loopback: already initialised")
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.handler = h
	d.mu.Unlock()

	h.HandleDeviceEvent(DeviceEvent{Kind: EventRadioInit, Address: "loopback"})
	return nil
}

func (d *LoopbackDriver) Deinit() {
	d.mu.Lock()
	cancel := d.cancel
	h := d.handler
	d.handler = nil
	d.ctx = nil
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	h.HandleDeviceEvent(DeviceEvent{Kind: EventRadioShutdown, Address: "loopback"})
}

func (d *LoopbackDriver) SendFile(address, path string) error {
	if address == "" {
		return errors.New("opp: loopback: empty target address")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("opp: loopback: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("opp: loopback: %s is a directory", path)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler == nil {
		return errors.New("opp: loopback: not initialised")
	}
	ctx := d.ctx
	h := d.handler
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, h, address, uint64(info.Size()))
	}()
	return nil
}

// run reports progress until the whole file is "sent" or ctx is cancelled.
func (d *LoopbackDriver) run(ctx context.Context, h Handler, address string, total uint64) {
	h.HandleDeviceEvent(DeviceEvent{Kind: EventDeviceConnected, Address: address})

	var sent uint64
	for sent < total {
		select {
		case <-ctx.Done():
			h.HandleTransferEvent(Cancelled(address, CancelConnectionLost))
			return
		case <-time.After(d.opts.Interval):
		}
		sent += uint64(d.opts.ChunkSize)
		if sent > total {
			sent = total
		}
		h.HandleTransferEvent(Progress(address, sent, total))
	}
	h.HandleTransferEvent(Completed(address))
}
