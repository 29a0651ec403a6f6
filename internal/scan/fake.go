package scan

import (
	"context"
	"sync"

	"github.com/sweeney/door-greeter/internal/presence"
)

// FakeSource is a test double. Events sent with Emit are delivered to the
// callback of the running Scan.
type FakeSource struct {
	events chan presence.RawEvent

	mu sync.Mutex
	// Errors, if non-empty, are returned by successive Scan calls before any
	// event is delivered; each call consumes one.
	Errors []error
	scans  int
}

// NewFakeSource creates a FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{events: make(chan presence.RawEvent)}
}

// Scan delivers emitted events until ctx is done.
func (f *FakeSource) Scan(ctx context.Context, found func(presence.RawEvent)) error {
	f.mu.Lock()
	f.scans++
	if len(f.Errors) > 0 {
		err := f.Errors[0]
		f.Errors = f.Errors[1:]
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.events:
			found(ev)
		}
	}
}

// Emit blocks until the running Scan has delivered ev, or ctx is done.
func (f *FakeSource) Emit(ctx context.Context, ev presence.RawEvent) bool {
	select {
	case f.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Scans returns the number of Scan calls so far.
func (f *FakeSource) Scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}
