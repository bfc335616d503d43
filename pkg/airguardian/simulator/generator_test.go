package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/readings"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGeneratorIsDeterministic(t *testing.T) {
	cfg := Config{DeviceID: "sim-1", Seed: 42, Start: start, Interval: time.Second}
	a, b := New(cfg), New(cfg)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}

	c := New(Config{DeviceID: "sim-1", Seed: 7, Start: start})
	assert.NotEqual(t, New(cfg).Next().PM25, c.Next().PM25)
}

func TestGeneratorCycleShape(t *testing.T) {
	g := New(Config{DeviceID: "sim-1", Seed: 1, Start: start})

	levels := make([]float64, 2*CyclePeriod)
	for i := range levels {
		r := g.Next()
		require.NotNil(t, r.MQ2Raw)
		levels[i] = *r.MQ2Raw
		if levels[i] < 0 || levels[i] > MaxADC {
			t.Fatalf("tick %d: level %v outside ADC range", i, levels[i])
		}
	}

	assert.InDelta(t, DefaultBaseline, levels[100], 30, "baseline")
	assert.Greater(t, levels[340], levels[310], "rising")
	assert.InDelta(t, PeakLevel, levels[420], 120, "plateau")
	assert.Less(t, levels[750], levels[550], "decaying")
	assert.InDelta(t, DefaultBaseline, levels[900], 30, "back to baseline")
	assert.InDelta(t, PeakLevel, levels[CyclePeriod+420], 120, "cycle repeats")
}

func TestGeneratorReadingsAreValidAndOrdered(t *testing.T) {
	g := New(Config{DeviceID: "sim-1", Seed: 3, Start: start, Interval: 2 * time.Second, Offset: 400})
	assert.Equal(t, 400, g.Tick())

	store := readings.NewStore(10)
	var peakCO float64
	for i := 0; i < 200; i++ {
		r := g.Next()
		require.NoError(t, readings.Validate(r))
		require.NoError(t, store.Append(r), "timestamps must increase")
		if r.CO > peakCO {
			peakCO = r.CO
		}
	}
	assert.Equal(t, 600, g.Tick())
	assert.Greater(t, peakCO, 200.0, "plateau drives CO past the critical threshold")

	latest, ok := store.Latest("sim-1")
	require.True(t, ok)
	assert.Equal(t, start.Add(199*2*time.Second), latest.Timestamp)
}
