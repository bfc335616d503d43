package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const decisionsTable = `
	CREATE TABLE IF NOT EXISTS decisions (
		timestamp DateTime64(3, 'UTC'),
		device_id LowCardinality(String),
		pm25 Float64,
		co2 Float64,
		co Float64,
		voc Float64,
		point_estimate Float64,
		will_peak Bool,
		forecast_confidence Float64,
		degraded Bool,
		air_type LowCardinality(String),
		classification_confidence Float64,
		fan_on Bool,
		fan_intensity UInt8,
		override_reason String,
		fault_type LowCardinality(String)
	) ENGINE = MergeTree()
	ORDER BY (device_id, timestamp)
`

const insertDecision = `
	INSERT INTO decisions (
		timestamp, device_id, pm25, co2, co, voc,
		point_estimate, will_peak, forecast_confidence, degraded,
		air_type, classification_confidence,
		fan_on, fan_intensity, override_reason, fault_type
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// execer is the subset of a ClickHouse connection the sink needs
type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// ClickHouseConfig holds connection settings for the decision sink
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseSink records one row per processed reading for offline analysis
type ClickHouseSink struct {
	conn execer
}

// NewClickHouseSink connects to ClickHouse and creates the decisions table
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %v", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %v", err)
	}

	sink, err := newClickHouseSink(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	klog.V(2).InfoS("Connected decision sink", "addr", cfg.Addr, "database", cfg.Database)
	return sink, nil
}

func newClickHouseSink(ctx context.Context, conn execer) (*ClickHouseSink, error) {
	if err := conn.Exec(ctx, decisionsTable); err != nil {
		return nil, fmt.Errorf("failed to create decisions table: %v", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

// WriteSnapshot inserts one decision row
func (s *ClickHouseSink) WriteSnapshot(ctx context.Context, snap types.DeviceSnapshot) error {
	override := ""
	if snap.Decision.OverrideReason != nil {
		override = *snap.Decision.OverrideReason
	}
	faultType := ""
	if snap.Fault != nil {
		faultType = string(snap.Fault.Type)
	}

	err := s.conn.Exec(ctx, insertDecision,
		snap.Reading.Timestamp.UTC(),
		snap.Reading.DeviceID,
		snap.Reading.PM25,
		snap.Reading.CO2,
		snap.Reading.CO,
		snap.Reading.VOC,
		snap.Forecast.PointEstimate,
		snap.Forecast.WillPeak,
		snap.Forecast.Confidence,
		snap.Forecast.Degraded,
		string(snap.Classification.Label),
		snap.Classification.Confidence,
		snap.Decision.FanOn,
		uint8(snap.Decision.FanIntensity),
		override,
		faultType,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision for %s: %v", snap.Reading.DeviceID, err)
	}
	return nil
}

// Close closes the connection
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
