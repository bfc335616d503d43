package simulator

import (
	"math"
	"math/rand"
	"time"

	"k8s.io/utils/ptr"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Smoke cycle shape, in ticks
const (
	CyclePeriod = 1000
	riseStart   = 300
	plateauFrom = 350
	decayFrom   = 500
	baselineAt  = 800

	DefaultBaseline = 220.0
	PeakLevel       = 900.0
	MaxADC          = 1023.0
)

// Config controls a generator
type Config struct {
	DeviceID string
	Seed     int64
	Baseline float64       // clean-air ADC level, DefaultBaseline if zero
	Start    time.Time     // timestamp of the first reading
	Interval time.Duration // spacing between readings
	Offset   int           // starting tick within the cycle
}

// Generator produces a deterministic stream of synthetic readings that follow
// a baseline, rise, plateau, decay smoke cycle
type Generator struct {
	cfg  Config
	rng  *rand.Rand
	tick int
}

// New creates a generator. Two generators with the same Config produce the
// same readings.
func New(cfg Config) *Generator {
	if cfg.Baseline == 0 {
		cfg.Baseline = DefaultBaseline
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC()
	}
	return &Generator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		tick: cfg.Offset,
	}
}

// Tick returns the index of the next reading
func (g *Generator) Tick() int {
	return g.tick
}

// Next returns the next reading and advances the cycle
func (g *Generator) Next() types.Reading {
	t := g.tick - g.cfg.Offset
	level := g.level(g.tick)
	g.tick++

	excess := math.Max(0, level-g.cfg.Baseline)
	return types.Reading{
		DeviceID:    g.cfg.DeviceID,
		Timestamp:   g.cfg.Start.Add(time.Duration(t) * g.cfg.Interval),
		PM25:        clip(8+excess*0.25+g.noise(1), 0, math.Inf(1)),
		CO2:         clip(420+excess*0.3+g.noise(5), 0, math.Inf(1)),
		CO:          clip(2+excess*0.35+g.noise(0.5), 0, math.Inf(1)),
		VOC:         clip(40+excess*0.5+g.noise(2), 0, math.Inf(1)),
		MQ2Raw:      ptr.To(math.Round(level)),
		Temperature: ptr.To(24 + g.noise(0.3)),
		Humidity:    ptr.To(45 + g.noise(1)),
	}
}

// level returns the smoke ADC level at tick, with phase-dependent noise
func (g *Generator) level(tick int) float64 {
	base := g.cfg.Baseline
	var v float64
	switch phase := tick % CyclePeriod; {
	case phase < riseStart:
		v = base + g.noise(5)
	case phase < plateauFrom:
		progress := float64(phase-riseStart) / float64(plateauFrom-riseStart)
		v = base + progress*(PeakLevel-base) + g.noise(15)
	case phase < decayFrom:
		v = PeakLevel + g.noise(25)
	case phase < baselineAt:
		progress := float64(phase-decayFrom) / float64(baselineAt-decayFrom)
		v = PeakLevel - progress*(PeakLevel-base) + g.noise(15)
	default:
		v = base + g.noise(5)
	}
	return clip(v, 0, MaxADC)
}

func (g *Generator) noise(sd float64) float64 {
	return g.rng.NormFloat64() * sd
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
