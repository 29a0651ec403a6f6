package gpio

import "sync"

// Call is one recorded motor command.
type Call struct {
	Op    string // "drive", "stop" or "close"
	Speed int
	Dir   Direction
}

// FakeMotor is a test double that records motor commands.
// It is safe for concurrent use so tests can inspect it while a sequencer runs.
type FakeMotor struct {
	mu    sync.Mutex
	calls []Call

	// DriveError, if set, is returned by Drive for calls whose direction
	// matches DriveErrorDir (or every call if DriveErrorDir is empty).
	DriveError    error
	DriveErrorDir Direction

	// StopError, if set, is returned by Stop.
	StopError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeMotor creates a FakeMotor.
func NewFakeMotor() *FakeMotor {
	return &FakeMotor{}
}

// Drive records the command.
func (f *FakeMotor) Drive(speed int, dir Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "drive", Speed: speed, Dir: dir})
	if err := checkSpeed(speed); err != nil {
		return err
	}
	if _, _, err := directionLevels(dir); err != nil {
		return err
	}
	if f.DriveError != nil && (f.DriveErrorDir == "" || f.DriveErrorDir == dir) {
		return f.DriveError
	}
	return nil
}

// Stop records the command.
func (f *FakeMotor) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "stop"})
	return f.StopError
}

// Close marks the motor as closed.
func (f *FakeMotor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "close"})
	f.Closed = true
	return nil
}

// Calls returns a copy of the recorded commands.
func (f *FakeMotor) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Drives returns the recorded drive commands only.
func (f *FakeMotor) Drives() []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == "drive" {
			out = append(out, c)
		}
	}
	return out
}

// IsClosed reports whether Close was called.
func (f *FakeMotor) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// Reset clears recorded commands and injected errors.
func (f *FakeMotor) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.DriveError = nil
	f.DriveErrorDir = ""
	f.StopError = nil
	f.Closed = false
}
