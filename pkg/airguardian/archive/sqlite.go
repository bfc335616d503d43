package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// ChannelStats aggregates one channel over a summary window
type ChannelStats struct {
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
}

// Summary aggregates a device's archived readings since a point in time
type Summary struct {
	DeviceID string                  `json:"device_id"`
	Since    time.Time               `json:"since"`
	Count    int                     `json:"count"`
	First    *time.Time              `json:"first_reading,omitempty"`
	Last     *time.Time              `json:"last_reading,omitempty"`
	Channels map[string]ChannelStats `json:"channels"`
}

// SQLiteArchive persists raw readings locally for warm starts and analytics
type SQLiteArchive struct {
	db       *sql.DB
	dbPath   string
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
	clock    clock.Clock
}

// Option customizes a SQLiteArchive
type Option func(*SQLiteArchive)

// WithClock sets the clock used to compute retention cutoffs
func WithClock(c clock.Clock) Option {
	return func(a *SQLiteArchive) {
		a.clock = c
	}
}

// NewSQLiteArchive opens (or creates) the archive database at dbPath
func NewSQLiteArchive(dbPath string, opts ...Option) (*SQLiteArchive, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	a := &SQLiteArchive{
		db:       db,
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %v", err)
	}
	if err := a.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %v", err)
	}

	klog.V(2).InfoS("Opened reading archive", "path", dbPath)
	return a, nil
}

func (a *SQLiteArchive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		ts INTEGER NOT NULL, -- unix nanoseconds, UTC
		pm25 REAL NOT NULL,
		co2 REAL NOT NULL,
		co REAL NOT NULL,
		voc REAL NOT NULL,
		mq2_raw REAL,
		temperature REAL,
		humidity REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_device_ts ON readings(device_id, ts);
	CREATE INDEX IF NOT EXISTS idx_ts ON readings(ts);
	`

	_, err := a.db.Exec(schema)
	return err
}

func (a *SQLiteArchive) prepareStatements() error {
	statements := map[string]string{
		"insert": `
			INSERT INTO readings (
				device_id, ts, pm25, co2, co, voc, mq2_raw, temperature, humidity
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
		"select_recent": `
			SELECT device_id, ts, pm25, co2, co, voc, mq2_raw, temperature, humidity
			FROM readings
			WHERE device_id = ?
			ORDER BY ts DESC
			LIMIT ?
		`,
		"select_devices": `
			SELECT DISTINCT device_id FROM readings ORDER BY device_id
		`,
		"summary": `
			SELECT COUNT(*), MIN(ts), MAX(ts),
				   AVG(pm25), MAX(pm25), AVG(co2), MAX(co2),
				   AVG(co), MAX(co), AVG(voc), MAX(voc)
			FROM readings
			WHERE device_id = ? AND ts >= ?
		`,
		"cleanup": `
			DELETE FROM readings
			WHERE ts < ?
		`,
	}

	for name, query := range statements {
		stmt, err := a.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %v", name, err)
		}
		a.prepared[name] = stmt
	}
	return nil
}

// StoreReading appends a reading to the archive
func (a *SQLiteArchive) StoreReading(ctx context.Context, r types.Reading) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	_, err := a.prepared["insert"].ExecContext(ctx,
		r.DeviceID,
		r.Timestamp.UTC().UnixNano(),
		r.PM25,
		r.CO2,
		r.CO,
		r.VOC,
		nullable(r.MQ2Raw),
		nullable(r.Temperature),
		nullable(r.Humidity),
	)
	if err != nil {
		return fmt.Errorf("failed to store reading: %v", err)
	}

	klog.V(4).InfoS("Archived reading", "device", r.DeviceID, "timestamp", r.Timestamp)
	return nil
}

// RecentReadings returns up to n most recent readings for a device, oldest first
func (a *SQLiteArchive) RecentReadings(ctx context.Context, deviceID string, n int) ([]types.Reading, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	rows, err := a.prepared["select_recent"].QueryContext(ctx, deviceID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %v", err)
	}
	defer rows.Close()

	out, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Devices lists every device with archived readings
func (a *SQLiteArchive) Devices(ctx context.Context) ([]string, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	rows, err := a.prepared["select_devices"].QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %v", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		devices = append(devices, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %v", err)
	}
	return devices, nil
}

// Summary aggregates a device's readings at or after since
func (a *SQLiteArchive) Summary(ctx context.Context, deviceID string, since time.Time) (Summary, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var (
		count                int
		first, last          sql.NullInt64
		avgPM, maxPM, avgCO2 sql.NullFloat64
		maxCO2, avgCO, maxCO sql.NullFloat64
		avgVOC, maxVOC       sql.NullFloat64
	)
	err := a.prepared["summary"].QueryRowContext(ctx, deviceID, since.UTC().UnixNano()).Scan(
		&count, &first, &last,
		&avgPM, &maxPM, &avgCO2, &maxCO2,
		&avgCO, &maxCO, &avgVOC, &maxVOC,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize readings: %v", err)
	}

	s := Summary{
		DeviceID: deviceID,
		Since:    since.UTC(),
		Count:    count,
		Channels: map[string]ChannelStats{},
	}
	if count == 0 {
		return s, nil
	}

	s.First = ptr.To(time.Unix(0, first.Int64).UTC())
	s.Last = ptr.To(time.Unix(0, last.Int64).UTC())
	s.Channels["pm25"] = ChannelStats{Average: avgPM.Float64, Peak: maxPM.Float64}
	s.Channels["co2"] = ChannelStats{Average: avgCO2.Float64, Peak: maxCO2.Float64}
	s.Channels["co"] = ChannelStats{Average: avgCO.Float64, Peak: maxCO.Float64}
	s.Channels["voc"] = ChannelStats{Average: avgVOC.Float64, Peak: maxVOC.Float64}
	return s, nil
}

// Cleanup removes readings older than retention
func (a *SQLiteArchive) Cleanup(retention time.Duration) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	cutoff := a.clock.Now().Add(-retention)
	result, err := a.prepared["cleanup"].Exec(cutoff.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to cleanup old readings: %v", err)
	}

	rowsAffected, _ := result.RowsAffected()
	klog.V(2).InfoS("Cleaned up archived readings",
		"cutoff", cutoff,
		"rowsDeleted", rowsAffected)
	return nil
}

// RunCleanup prunes the archive every interval until ctx is done
func (a *SQLiteArchive) RunCleanup(ctx context.Context, retention, interval time.Duration) {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if err := a.Cleanup(retention); err != nil {
			klog.ErrorS(err, "Archive cleanup failed")
		}
	}, interval)
}

// Close closes the prepared statements and the database
func (a *SQLiteArchive) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, stmt := range a.prepared {
		stmt.Close()
	}
	return a.db.Close()
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	var out []types.Reading
	for rows.Next() {
		var (
			r                       types.Reading
			ts                      int64
			mq2, temperature, humid sql.NullFloat64
		)
		if err := rows.Scan(&r.DeviceID, &ts, &r.PM25, &r.CO2, &r.CO, &r.VOC, &mq2, &temperature, &humid); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.MQ2Raw = fromNullable(mq2)
		r.Temperature = fromNullable(temperature)
		r.Humidity = fromNullable(humid)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %v", err)
	}
	return out, nil
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return ptr.To(v.Float64)
}
