package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

// LoadFile parses a YAML file over the environment-derived defaults
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	cfg := fromEnv()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

// Load pulls a .env file if present, then the environment, then the optional
// YAML file at path
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		klog.V(2).InfoS("Ignoring unreadable .env file", "err", err)
	}

	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg, err = LoadFromEnv()
	} else {
		cfg, err = LoadFile(path)
	}
	if err != nil {
		return nil, err
	}

	klog.V(2).InfoS("Loaded configuration",
		"predictorBackend", cfg.Predictor.Backend,
		"classifierBackend", cfg.Classifier.Backend,
		"ledgerBackend", cfg.Ledger.Backend,
		"windowSize", cfg.Pipeline.WindowSize,
		"redisMirror", cfg.Cache.RedisEnabled,
		"sqliteArchive", cfg.Archive.SQLitePath,
		"mqttEnabled", cfg.MQTT.Enabled)

	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			WindowSize: getIntOrDefault("WINDOW_SIZE", common.WindowSize),
		},
		Predictor: PredictorConfig{
			Backend:      getEnvOrDefault("PREDICTOR_BACKEND", PredictorArtifact),
			ArtifactPath: getEnvOrDefault("MODEL_ARTIFACT_PATH", "./models/smoke_model.json"),
			URL:          os.Getenv("MODEL_SERVICE_URL"),
			Timeout:      getDurationOrDefault("PREDICTOR_TIMEOUT", common.DefaultPredictorTimeout),
			MockValue:    getFloatOrDefault("PREDICTOR_MOCK_VALUE", 200),
		},
		Classifier: ClassifierConfig{
			Backend:     getEnvOrDefault("CLASSIFIER_BACKEND", ClassifierRules),
			URL:         os.Getenv("LLM_URL"),
			APIKey:      os.Getenv("LLM_API_KEY"),
			Model:       os.Getenv("LLM_MODEL"),
			MaxTokens:   getIntOrDefault("LLM_MAX_TOKENS", 256),
			Temperature: getFloatOrDefault("LLM_TEMPERATURE", 0.2),
			Timeout:     getDurationOrDefault("CLASSIFIER_TIMEOUT", common.DefaultClassifierTimeout),
		},
		Ledger: LedgerConfig{
			Backend:      getEnvOrDefault("LEDGER_BACKEND", LedgerSimulated),
			URL:          os.Getenv("LEDGER_URL"),
			APIKey:       os.Getenv("LEDGER_API_KEY"),
			KafkaBrokers: getListOrDefault("LEDGER_KAFKA_BROKERS", nil),
			KafkaTopic:   getEnvOrDefault("LEDGER_KAFKA_TOPIC", "air-guardian.ledger"),
			Timeout:      getDurationOrDefault("LEDGER_TIMEOUT", common.DefaultLedgerTimeout),
			JournalSize:  getIntOrDefault("LEDGER_JOURNAL_SIZE", common.DefaultJournalSize),
		},
		Cache: CacheConfig{
			RedisEnabled:  getBoolOrDefault("REDIS_ENABLED", false),
			RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       getIntOrDefault("REDIS_DB", 0),
			MirrorTTL:     getDurationOrDefault("REDIS_MIRROR_TTL", time.Hour),
			MirrorTimeout: getDurationOrDefault("REDIS_MIRROR_TIMEOUT", 2*time.Second),
		},
		Archive: ArchiveConfig{
			SQLitePath:         os.Getenv("ARCHIVE_SQLITE_PATH"),
			Retention:          getDurationOrDefault("ARCHIVE_RETENTION", 7*24*time.Hour),
			CleanupInterval:    getDurationOrDefault("ARCHIVE_CLEANUP_INTERVAL", time.Hour),
			ClickHouseEnabled:  getBoolOrDefault("CLICKHOUSE_ENABLED", false),
			ClickHouseAddr:     getEnvOrDefault("CLICKHOUSE_ADDR", "localhost:9000"),
			ClickHouseDatabase: getEnvOrDefault("CLICKHOUSE_DB", "airguardian"),
			ClickHouseUsername: getEnvOrDefault("CLICKHOUSE_USER", "default"),
			ClickHousePassword: os.Getenv("CLICKHOUSE_PASS"),
		},
		MQTT: MQTTConfig{
			Enabled:        getBoolOrDefault("MQTT_ENABLED", false),
			Broker:         getEnvOrDefault("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID:       getEnvOrDefault("MQTT_CLIENT_ID", "air-guardian"),
			Username:       os.Getenv("MQTT_USERNAME"),
			Password:       os.Getenv("MQTT_PASSWORD"),
			ReadingTopic:   getEnvOrDefault("MQTT_READING_TOPIC", common.DefaultReadingTopic),
			CommandTopic:   getEnvOrDefault("MQTT_COMMAND_TOPIC", common.DefaultCommandTopic),
			QoS:            getIntOrDefault("MQTT_QOS", 1),
			ConnectTimeout: getDurationOrDefault("MQTT_CONNECT_TIMEOUT", 10*time.Second),
		},
		Server: ServerConfig{
			Addr:            getEnvOrDefault("SERVER_ADDR", ":8000"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second),
			CORSOrigins:     getListOrDefault("CORS_ORIGINS", []string{"*"}),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getBoolOrDefault("METRICS_ENABLED", true),
			LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getListOrDefault splits a comma-separated value, dropping empty items
func getListOrDefault(key string, defaultValue []string) []string {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(strValue, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		value, err := strconv.ParseBool(strValue)
		if err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := time.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}
