package ble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ScanForDevices enables the adapter, scans for timeout and returns each
// device once, strongest signal first. A device keeps its best RSSI and the
// first non-empty name seen.
func ScanForDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	seen, err := adapter.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return dedupe(seen), nil
}

func dedupe(seen []Device) []Device {
	byAddr := make(map[string]int)
	var out []Device
	for _, d := range seen {
		key := strings.ToUpper(d.Address)
		i, ok := byAddr[key]
		if !ok {
			byAddr[key] = len(out)
			out = append(out, d)
			continue
		}
		if d.RSSI > out[i].RSSI {
			out[i].RSSI = d.RSSI
		}
		if out[i].Name == "" {
			out[i].Name = d.Name
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RSSI > out[j].RSSI
	})
	return out
}
