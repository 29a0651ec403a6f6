package presence

import "math"

// Trend classifier defaults.
const (
	DefaultTrendWindow       = 10
	DefaultMovementThreshold = 10.0 // dBm
)

// A beacon counts as nearby when any of its last NearbyWindow samples is at
// or above NearbyRSSI. It is advisory and never drives presence.
const (
	NearbyWindow = 5
	NearbyRSSI   = -30 // dBm
)

// Nearby reports whether any sample reaches threshold.
func Nearby(samples []Observation, threshold int) bool {
	for _, s := range samples {
		if s.RSSI >= threshold {
			return true
		}
	}
	return false
}

// ClassifyWindow classifies samples (oldest first) by comparing the mean RSSI
// of the later half against the earlier half. For odd counts the earlier half
// holds the extra sample.
func ClassifyWindow(samples []Observation, threshold float64) Trend {
	n := len(samples)
	if n < 2 {
		return TrendUnknown
	}
	mid := (n + 1) / 2
	diff := meanRSSI(samples[mid:]) - meanRSSI(samples[:mid])
	switch {
	case math.Abs(diff) < threshold:
		return TrendStable
	case diff > 0:
		return TrendApproaching
	default:
		return TrendReceding
	}
}

func meanRSSI(samples []Observation) float64 {
	sum := 0
	for _, s := range samples {
		sum += s.RSSI
	}
	return float64(sum) / float64(len(samples))
}

// TrendClassifier classifies identities from their recent History.
type TrendClassifier struct {
	history   *History
	window    int
	threshold float64
}

// NewTrendClassifier creates a classifier over h. Non-positive parameters fall
// back to the defaults.
func NewTrendClassifier(h *History, window int, threshold float64) *TrendClassifier {
	if window <= 0 {
		window = DefaultTrendWindow
	}
	if threshold <= 0 {
		threshold = DefaultMovementThreshold
	}
	return &TrendClassifier{history: h, window: window, threshold: threshold}
}

// Classify returns the current trend for id.
func (c *TrendClassifier) Classify(id Identity) Trend {
	return ClassifyWindow(c.history.Window(id, c.window), c.threshold)
}
