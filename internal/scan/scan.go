// Package scan delivers BLE advertisement sightings from the radio.
package scan

import (
	"context"

	"github.com/sweeney/door-greeter/internal/presence"
)

// Source pushes raw detection events to a callback.
type Source interface {
	// Scan calls found for every advertisement until ctx is done or the
	// transport fails. The callback may be invoked from a transport-owned
	// goroutine and must not block.
	Scan(ctx context.Context, found func(presence.RawEvent)) error
}
