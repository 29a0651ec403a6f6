package presence

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecordAndWindow(t *testing.T) {
	h := NewHistory([]Identity{phone}, time.Minute, 50)
	for i := 0; i < 5; i++ {
		require.True(t, h.Record(obsAt(phone, time.Duration(i)*time.Second, -60-i)))
	}

	w := h.Window(phone, 3)
	require.Len(t, w, 3)
	assert.Equal(t, -62, w[0].RSSI)
	assert.Equal(t, -63, w[1].RSSI)
	assert.Equal(t, -64, w[2].RSSI)

	assert.Len(t, h.Window(phone, 10), 5, "short history returns what it has")
	assert.Empty(t, h.Window(phone, 0))
	assert.Empty(t, h.Window(watch, 3), "untracked identity has no window")
}

func TestHistoryWindowIsACopy(t *testing.T) {
	h := NewHistory([]Identity{phone}, time.Minute, 50)
	h.Record(obsAt(phone, 0, -60))

	w := h.Window(phone, 1)
	w[0].RSSI = 0

	assert.Equal(t, -60, h.Window(phone, 1)[0].RSSI)
	assert.Equal(t, h.Window(phone, 1), h.Window(phone, 1), "window is restartable")
}

func TestHistoryDuplicateTimestampReplaces(t *testing.T) {
	h := NewHistory([]Identity{phone}, time.Minute, 50)
	h.Record(obsAt(phone, time.Second, -60))
	require.True(t, h.Record(obsAt(phone, time.Second, -50)))

	require.Equal(t, 1, h.Len(phone))
	assert.Equal(t, -50, h.Window(phone, 1)[0].RSSI)
}

func TestHistoryRejectsOutOfOrder(t *testing.T) {
	h := NewHistory([]Identity{phone}, time.Minute, 50)
	h.Record(obsAt(phone, 2*time.Second, -60))

	assert.False(t, h.Record(obsAt(phone, time.Second, -60)))
	assert.Equal(t, 1, h.Len(phone))
}

func TestHistoryRejectsUntracked(t *testing.T) {
	h := NewHistory([]Identity{phone}, time.Minute, 50)
	assert.False(t, h.Record(obsAt(watch, 0, -60)))
}

func TestHistoryEvictByAge(t *testing.T) {
	h := NewHistory([]Identity{phone}, 60*time.Second, 50)
	for i := 0; i <= 100; i += 10 {
		h.Record(obsAt(phone, time.Duration(i)*time.Second, -60))
	}

	// now=100s: entries at 0..30s are older than 60s; 40s is exactly 60s old
	// and is kept.
	removed := h.Evict(t0.Add(100 * time.Second))
	assert.Equal(t, 4, removed)

	w := h.Window(phone, 50)
	require.Len(t, w, 7)
	assert.True(t, w[0].Time.Equal(t0.Add(40*time.Second)))
}

func TestHistoryEvictByCount(t *testing.T) {
	h := NewHistory([]Identity{phone}, time.Hour, 5)
	for i := 0; i < 12; i++ {
		h.Record(obsAt(phone, time.Duration(i)*time.Millisecond, -i))
	}

	assert.Equal(t, 7, h.Evict(t0.Add(time.Second)))

	w := h.Window(phone, 50)
	require.Len(t, w, 5)
	assert.Equal(t, -7, w[0].RSSI, "oldest excess entries are dropped")
	assert.Equal(t, -11, w[4].RSSI)
}

func TestHistoryEvictEmptiesStaleSeries(t *testing.T) {
	h := NewHistory([]Identity{phone, watch}, time.Minute, 50)
	h.Record(obsAt(phone, 0, -60))
	h.Record(obsAt(watch, 0, -60))

	h.Evict(t0.Add(2 * time.Minute))
	assert.Zero(t, h.Len(phone))
	assert.Zero(t, h.Len(watch))

	// Recording continues after a series has been emptied.
	assert.True(t, h.Record(obsAt(phone, 3*time.Minute, -60)))
}

// Eviction never removes samples younger than the retention interval unless
// the count cap forces it, and always leaves at most maxEntries.
func TestHistoryEvictInvariants(t *testing.T) {
	const retention = 60 * time.Second
	const maxEntries = 50
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		h := NewHistory([]Identity{phone}, retention, maxEntries)
		var at time.Duration
		n := rng.Intn(400)
		for i := 0; i < n; i++ {
			// Mix of bursts (sub-millisecond) and sparse gaps.
			if rng.Intn(4) == 0 {
				at += time.Duration(rng.Intn(20)) * time.Second
			} else {
				at += time.Duration(1+rng.Intn(1000)) * time.Microsecond
			}
			h.Record(obsAt(phone, at, -rng.Intn(100)))
		}
		now := t0.Add(at + time.Duration(rng.Intn(90))*time.Second)

		before := h.Window(phone, n+1)
		young := 0
		for _, o := range before {
			if now.Sub(o.Time) <= retention {
				young++
			}
		}

		h.Evict(now)
		after := h.Window(phone, n+1)

		require.LessOrEqual(t, len(after), maxEntries, "trial %d", trial)
		want := young
		if want > maxEntries {
			want = maxEntries
		}
		require.Len(t, after, want, "trial %d: young entries must survive up to the cap", trial)
		for _, o := range after {
			require.LessOrEqual(t, now.Sub(o.Time), retention, "trial %d", trial)
		}
		for i := 1; i < len(after); i++ {
			require.True(t, after[i-1].Time.Before(after[i].Time), "trial %d: order", trial)
		}
	}
}

func TestHistoryDefaults(t *testing.T) {
	h := NewHistory([]Identity{phone}, 0, 0)
	assert.Equal(t, DefaultRetention, h.retention)
	assert.Equal(t, DefaultMaxEntries, h.maxEntries)
}

func TestHistoryConcurrentRecordAndEvict(t *testing.T) {
	h := NewHistory([]Identity{phone, watch}, time.Second, 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			h.Record(obsAt(phone, time.Duration(i)*time.Millisecond, -60))
			h.Record(obsAt(watch, time.Duration(i)*time.Millisecond, -70))
		}
	}()
	for i := 0; i < 200; i++ {
		h.Evict(t0.Add(time.Duration(i*10) * time.Millisecond))
		h.Window(phone, 10)
	}
	<-done

	h.Evict(t0.Add(2 * time.Second))
	assert.LessOrEqual(t, h.Len(phone), 10)
	assert.LessOrEqual(t, h.Len(watch), 10)
}
