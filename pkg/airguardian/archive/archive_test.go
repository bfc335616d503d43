package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestArchive(t *testing.T, opts ...Option) *SQLiteArchive {
	t.Helper()
	a, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "nested", "archive.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func reading(device string, i int, pm25 float64) types.Reading {
	return types.Reading{
		DeviceID:  device,
		Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
		PM25:      pm25,
		CO2:       400 + float64(i),
		CO:        5,
		VOC:       50,
	}
}

func TestStoreAndRecentReadings(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, a.StoreReading(ctx, reading("d1", i, float64(i))))
	}
	withOptional := reading("d2", 0, 12)
	withOptional.MQ2Raw = ptr.To(512.0)
	withOptional.Humidity = ptr.To(41.5)
	require.NoError(t, a.StoreReading(ctx, withOptional))

	recent, err := a.RecentReadings(ctx, "d1", common.WindowSize)
	require.NoError(t, err)
	require.Len(t, recent, common.WindowSize)
	assert.Equal(t, 5.0, recent[0].PM25, "oldest of the tail comes first")
	assert.Equal(t, 14.0, recent[9].PM25)
	assert.Equal(t, baseTime.Add(14*time.Minute), recent[9].Timestamp)
	assert.Nil(t, recent[0].MQ2Raw)

	d2, err := a.RecentReadings(ctx, "d2", 10)
	require.NoError(t, err)
	require.Len(t, d2, 1)
	require.NotNil(t, d2[0].MQ2Raw)
	assert.Equal(t, 512.0, *d2[0].MQ2Raw)
	assert.Nil(t, d2[0].Temperature)
	assert.Equal(t, 41.5, *d2[0].Humidity)

	devices, err := a.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, devices)
}

func TestSummary(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	for i, pm := range []float64{10, 20, 30, 60} {
		require.NoError(t, a.StoreReading(ctx, reading("d1", i, pm)))
	}

	s, err := a.Summary(ctx, "d1", baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 36.666, s.Channels["pm25"].Average, 0.01)
	assert.Equal(t, 60.0, s.Channels["pm25"].Peak)
	assert.Equal(t, 403.0, s.Channels["co2"].Peak)
	require.NotNil(t, s.First)
	assert.Equal(t, baseTime.Add(time.Minute), *s.First)
	assert.Equal(t, baseTime.Add(3*time.Minute), *s.Last)

	empty, err := a.Summary(ctx, "unknown", baseTime)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)
	assert.Nil(t, empty.First)
	assert.Empty(t, empty.Channels)
}

func TestCleanup(t *testing.T) {
	clk := clock.NewMockClock(baseTime.Add(2 * time.Hour))
	a := newTestArchive(t, WithClock(clk))
	ctx := context.Background()

	require.NoError(t, a.StoreReading(ctx, reading("d1", 0, 1)))
	require.NoError(t, a.StoreReading(ctx, reading("d1", 90, 2)))

	require.NoError(t, a.Cleanup(time.Hour))

	recent, err := a.RecentReadings(ctx, "d1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 2.0, recent[0].PM25)
}

func TestRunCleanupStopsWithContext(t *testing.T) {
	a := newTestArchive(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		a.RunCleanup(ctx, time.Hour, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return after cancel")
	}
}

type execCall struct {
	query string
	args  []any
}

type fakeConn struct {
	calls  []execCall
	err    error
	closed bool
}

func (f *fakeConn) Exec(ctx context.Context, query string, args ...any) error {
	f.calls = append(f.calls, execCall{query: query, args: args})
	return f.err
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestClickHouseSink(t *testing.T) {
	conn := &fakeConn{}
	ctx := context.Background()

	sink, err := newClickHouseSink(ctx, conn)
	require.NoError(t, err)
	require.Len(t, conn.calls, 1)
	assert.Contains(t, conn.calls[0].query, "CREATE TABLE IF NOT EXISTS decisions")

	snap := types.DeviceSnapshot{
		Reading:        reading("esp32-1", 0, 120),
		Forecast:       types.Forecast{PointEstimate: 450, WillPeak: true, Confidence: 0.95},
		Classification: types.Classification{Label: types.LabelCooking, Confidence: 0.75},
		Decision: types.Decision{
			FanOn:          true,
			FanIntensity:   types.FanMax,
			OverrideReason: ptr.To(common.SafetyOverrideLabel),
		},
		Fault: &types.Fault{Type: types.FaultSpike},
	}
	require.NoError(t, sink.WriteSnapshot(ctx, snap))

	require.Len(t, conn.calls, 2)
	insert := conn.calls[1]
	assert.True(t, strings.Contains(insert.query, "INSERT INTO decisions"))
	require.Len(t, insert.args, 16)
	assert.Equal(t, "esp32-1", insert.args[1])
	assert.Equal(t, "cooking", insert.args[10])
	assert.Equal(t, uint8(100), insert.args[13])
	assert.Equal(t, common.SafetyOverrideLabel, insert.args[14])
	assert.Equal(t, "spike", insert.args[15])

	require.NoError(t, sink.Close())
	assert.True(t, conn.closed)
}

func TestClickHouseSinkErrors(t *testing.T) {
	_, err := newClickHouseSink(context.Background(), &fakeConn{err: fmt.Errorf("readonly")})
	assert.Error(t, err)

	conn := &fakeConn{}
	sink, err := newClickHouseSink(context.Background(), conn)
	require.NoError(t, err)
	conn.err = fmt.Errorf("too many parts")
	err = sink.WriteSnapshot(context.Background(), types.DeviceSnapshot{Reading: reading("d1", 0, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d1")
}
