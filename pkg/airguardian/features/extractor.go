package features

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Feature vector layout. This ordering is the contract every trained predictor
// artifact is built against; changing it invalidates existing artifacts.
//
//	index = channel*StatsPerChannel + stat
//
//	channel: 0 mq2_raw (falls back to co), 1 pm25, 2 co, 3 voc,
//	         4 temperature (default 25.0), 5 humidity (default 50.0)
//	stat:    0 mean, 1 max, 2 last, 3 slope, 4 delta
//
// slope is the least-squares trend over index positions 0..n-1 (0 for a
// single point); delta is last - x[n-3] (0 when fewer than 3 readings).
const (
	StatsPerChannel = 5
	Length          = 30
)

// Channel names in layout order
var Channels = []string{"mq2_raw", "pm25", "co", "voc", "temperature", "humidity"}

// Stat names in per-channel layout order
var Stats = []string{"mean", "max", "last", "slope", "delta"}

// Vector is a fixed-length feature vector
type Vector []float64

// Names returns "<channel>_<stat>" labels in layout order
func Names() []string {
	names := make([]string, 0, Length)
	for _, ch := range Channels {
		for _, st := range Stats {
			names = append(names, ch+"_"+st)
		}
	}
	return names
}

// Index returns the vector position of a channel statistic, or -1
func Index(channel, statName string) int {
	ci, si := -1, -1
	for i, c := range Channels {
		if c == channel {
			ci = i
		}
	}
	for i, s := range Stats {
		if s == statName {
			si = i
		}
	}
	if ci < 0 || si < 0 {
		return -1
	}
	return ci*StatsPerChannel + si
}

// ChannelValues projects a window onto one channel, applying the missing-value
// rules of the layout.
func ChannelValues(window []types.Reading, channel int) []float64 {
	out := make([]float64, len(window))
	for i, r := range window {
		switch channel {
		case 0:
			out[i] = ptr.Deref(r.MQ2Raw, r.CO)
		case 1:
			out[i] = r.PM25
		case 2:
			out[i] = r.CO
		case 3:
			out[i] = r.VOC
		case 4:
			out[i] = ptr.Deref(r.Temperature, common.DefaultTemperature)
		case 5:
			out[i] = ptr.Deref(r.Humidity, common.DefaultHumidity)
		}
	}
	return out
}

// Extract turns a window of readings into a feature vector. An empty window
// yields the zero vector.
func Extract(window []types.Reading) Vector {
	v := make(Vector, Length)
	if len(window) == 0 {
		return v
	}

	for ch := range Channels {
		x := ChannelValues(window, ch)
		off := ch * StatsPerChannel
		v[off+0] = stat.Mean(x, nil)
		v[off+1] = floats.Max(x)
		v[off+2] = x[len(x)-1]
		v[off+3] = slope(x)
		v[off+4] = delta(x)
	}
	return v
}

func slope(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	idx := make([]float64, len(x))
	for i := range idx {
		idx[i] = float64(i)
	}
	_, beta := stat.LinearRegression(idx, x, nil, false)
	return beta
}

func delta(x []float64) float64 {
	n := len(x)
	if n < 3 {
		return 0
	}
	return x[n-1] - x[n-3]
}
