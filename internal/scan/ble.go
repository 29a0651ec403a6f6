package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/sweeney/door-greeter/internal/presence"
)

// stopRetry is the pause between StopScan attempts while the adapter has not
// started scanning yet.
const stopRetry = 10 * time.Millisecond

// radio is the part of the Bluetooth adapter a BLESource drives.
type radio interface {
	Enable() error
	Scan(found func(presence.RawEvent)) error
	StopScan() error
}

// adapterRadio adapts a tinygo adapter to radio.
type adapterRadio struct {
	adapter *bluetooth.Adapter
}

func (a adapterRadio) Enable() error   { return a.adapter.Enable() }
func (a adapterRadio) StopScan() error { return a.adapter.StopScan() }

func (a adapterRadio) Scan(found func(presence.RawEvent)) error {
	return a.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
		// BlueZ reports RSSI 0 when no reading is available.
		found(presence.RawEvent{
			Address: res.Address.String(),
			Name:    res.LocalName(),
			RSSI:    int(res.RSSI),
			HasRSSI: res.RSSI != 0,
		})
	})
}

// BLESource scans with the host Bluetooth adapter (BlueZ over D-Bus on
// Linux).
type BLESource struct {
	radio radio

	mu      sync.Mutex
	enabled bool
}

// NewBLESource returns a Source using the default adapter.
func NewBLESource() *BLESource {
	return &BLESource{radio: adapterRadio{adapter: bluetooth.DefaultAdapter}}
}

// enable powers the adapter up. Only success is remembered, so a call
// after a failure tries again.
func (s *BLESource) enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}
	if err := s.radio.Enable(); err != nil {
		return err
	}
	s.enabled = true
	return nil
}

// Scan runs a continuous scan until ctx is done.
func (s *BLESource) Scan(ctx context.Context, found func(presence.RawEvent)) error {
	if err := s.enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go s.stopOnCancel(ctx, done)

	err := s.radio.Scan(found)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// stopOnCancel stops the scan once ctx is done. StopScan fails until the
// adapter has actually started, so it is retried until the scan returns.
func (s *BLESource) stopOnCancel(ctx context.Context, done <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	for s.radio.StopScan() != nil {
		select {
		case <-done:
			return
		case <-time.After(stopRetry):
		}
	}
}
