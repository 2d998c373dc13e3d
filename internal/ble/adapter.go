// Package ble discovers nearby Bluetooth devices so the user can pick the
// address to push files to.
package ble

import "context"

// Device represents a discovered peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Adapter abstracts the Bluetooth hardware adapter for testing.
type Adapter interface {
	// Enable powers on the adapter.
	Enable() error
	// Scan reports advertising devices until ctx is cancelled or times out.
	// The same device may be reported more than once.
	Scan(ctx context.Context) ([]Device, error)
}
