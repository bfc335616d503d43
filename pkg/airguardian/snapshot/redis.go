package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// redisCmdable is the subset of *redis.Client the mirror needs
type redisCmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisMirror stores snapshots as JSON values keyed by device
type RedisMirror struct {
	client redisCmdable
	ttl    time.Duration
}

// RedisConfig holds connection settings for the mirror
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisMirror connects to Redis and verifies the connection
func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %v", cfg.Addr, err)
	}

	klog.V(2).InfoS("Connected snapshot mirror", "addr", cfg.Addr, "db", cfg.DB, "ttl", cfg.TTL)
	return newRedisMirror(client, cfg.TTL), nil
}

func newRedisMirror(client redisCmdable, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl}
}

func snapshotKey(deviceID string) string {
	return common.RedisKeyPrefix + "snapshot:" + deviceID
}

// Store writes the snapshot and registers its device
func (m *RedisMirror) Store(ctx context.Context, snap types.DeviceSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %v", err)
	}

	deviceID := snap.Reading.DeviceID
	if err := m.client.Set(ctx, snapshotKey(deviceID), payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %v", deviceID, err)
	}
	if err := m.client.SAdd(ctx, common.RedisDevicesKey, deviceID).Err(); err != nil {
		return fmt.Errorf("failed to register device %s: %v", deviceID, err)
	}
	return nil
}

// Load reads a snapshot written by any process sharing the Redis instance
func (m *RedisMirror) Load(ctx context.Context, deviceID string) (types.DeviceSnapshot, bool, error) {
	raw, err := m.client.Get(ctx, snapshotKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.DeviceSnapshot{}, false, nil
	}
	if err != nil {
		return types.DeviceSnapshot{}, false, fmt.Errorf("failed to load snapshot for %s: %v", deviceID, err)
	}

	var snap types.DeviceSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return types.DeviceSnapshot{}, false, fmt.Errorf("corrupt snapshot for %s: %v", deviceID, err)
	}
	return snap, true, nil
}

// Devices lists every device registered in the mirror
func (m *RedisMirror) Devices(ctx context.Context) ([]string, error) {
	devices, err := m.client.SMembers(ctx, common.RedisDevicesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list mirrored devices: %v", err)
	}
	sort.Strings(devices)
	return devices, nil
}
