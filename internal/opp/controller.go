package opp

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrNotInitialized is returned by SendFile while the adapter is down.
var ErrNotInitialized = errors.New("opp: bluetooth not initialised")

// Notifier is the outbound notification boundary.
type Notifier interface {
	Message(text string)
	AdapterState(initialized bool)
}

// Controller mediates between the UI and a Driver.
//
// mu guards initialized. ToggleAdapter takes it exclusively for the whole
// init/deinit call; SendFile holds it shared across the state check and the
// driver dispatch, so a deinit can never land between the two. Driver
// callbacks never touch mu.
type Controller struct {
	driver Driver
	notes  Notifier

	mu          sync.RWMutex
	initialized bool
}

// Compile-time check that Controller implements Handler.
var _ Handler = (*Controller)(nil)

// NewController creates a Controller in the NotInitialized state.
// Panics if driver or notes is nil (programmer error).
func NewController(driver Driver, notes Notifier) *Controller {
	if driver == nil || notes == nil {
		panic("opp: NewController called with nil driver or notifier")
	}
	return &Controller{driver: driver, notes: notes}
}

// IsInitialized reports the current adapter state.
func (c *Controller) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// ToggleAdapter brings the adapter up (on) or down (!on). Calls that match the
// current state are no-ops. The returned error is the driver init failure, if
// any; it has already been reported as a notification.
func (c *Controller) ToggleAdapter(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if on == c.initialized {
		slog.Debug("[OPP] toggle ignored, already in target state", "initialized", on)
		return nil
	}

	if on {
		if err := c.driver.Init(c); err != nil {
			slog.Error("[OPP] driver init failed", "error", err)
			c.notes.Message(fmt.Sprintf("Failed to initialise Bluetooth: %v", err))
			return fmt.Errorf("opp: init: %w", err)
		}
		c.initialized = true
		slog.Info("[OPP] bluetooth initialised")
		c.notes.AdapterState(true)
		c.notes.Message("Bluetooth initialised")
		return nil
	}

	c.driver.Deinit()
	c.initialized = false
	slog.Info("[OPP] bluetooth deinitialised")
	c.notes.AdapterState(false)
	c.notes.Message("Bluetooth deinitialised")
	return nil
}

// SendFile pushes the file at path to the device at address.
func (c *Controller) SendFile(address, path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized {
		c.notes.Message("Bluetooth not initialised")
		return ErrNotInitialized
	}

	if err := c.driver.SendFile(address, path); err != nil {
		slog.Error("[OPP] send failed", "address", address, "path", path, "error", err)
		c.notes.Message(fmt.Sprintf("Failed to send file: %v", err))
		return fmt.Errorf("opp: send %s to %s: %w", path, address, err)
	}

	slog.Info("[OPP] sending", "address", address, "path", path)
	c.notes.Message(fmt.Sprintf("Sending file %s to %s", path, address))
	return nil
}

// HandleTransferEvent relays a driver transfer callback as a notification.
func (c *Controller) HandleTransferEvent(ev TransferEvent) {
	switch ev.Kind {
	case TransferProgress:
		c.notes.Message(fmt.Sprintf("Sent %d of %d", ev.Sent, ev.Total))
	case TransferCompleted:
		slog.Info("[OPP] transfer complete", "address", ev.Address)
		c.notes.Message("Transfer complete")
	case TransferCancelled:
		slog.Warn("[OPP] transfer cancelled", "address", ev.Address, "reason", ev.Reason.String())
		c.notes.Message("Transfer complete - " + ev.Reason.String())
	default:
		slog.Warn("[OPP] unknown transfer event", "kind", ev.Kind)
	}
}

// HandleDeviceEvent relays a driver device callback as a notification.
func (c *Controller) HandleDeviceEvent(ev DeviceEvent) {
	parts := []string{ev.Kind.String()}
	if ev.Address != "" {
		parts = append(parts, ev.Address)
	}
	if ev.Data != "" {
		parts = append(parts, ev.Data)
	}
	slog.Debug("[OPP] device event", "kind", ev.Kind.String(), "address", ev.Address, "data", ev.Data)
	c.notes.Message(strings.Join(parts, " "))
}

// Close deinitialises the adapter if it is up. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return
	}
	slog.Info("[OPP] deinitialising on shutdown")
	c.driver.Deinit()
	c.initialized = false
	c.notes.AdapterState(false)
}
