package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// stopRetry is how often a cancelled scan retries StopScan while the
// underlying scan has not registered yet.
const stopRetry = 50 * time.Millisecond

// radio is the subset of *bluetooth.Adapter used for scanning.
type radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// TinyGoAdapter wraps tinygo-org/bluetooth. On Linux it talks to BlueZ, on
// macOS to CoreBluetooth (where Address holds a CoreBluetooth UUID, not a MAC).
type TinyGoAdapter struct {
	radio radio
}

// NewTinyGoAdapter creates an Adapter on the system default adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{radio: bluetooth.DefaultAdapter}
}

func (a *TinyGoAdapter) Enable() error {
	return a.radio.Enable()
}

func (a *TinyGoAdapter) Scan(ctx context.Context) ([]Device, error) {
	if ctx.Err() != nil {
		return nil, nil
	}

	var mu sync.Mutex
	var devices []Device

	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		// StopScan fails until Scan has registered, so keep trying.
		for {
			if err := a.radio.StopScan(); err == nil {
				return
			}
			select {
			case <-done:
				return
			case <-time.After(stopRetry):
			}
		}
	}()

	err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		mu.Lock()
		defer mu.Unlock()
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)
