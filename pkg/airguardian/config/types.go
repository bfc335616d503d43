package config

import (
	"fmt"
	"time"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/classifier"
)

// Predictor backends
const (
	PredictorArtifact = "artifact"
	PredictorRemote   = "remote"
	PredictorMock     = "mock"
)

// Classifier backends. The LLM backends reuse the provider names.
const (
	ClassifierRules  = "rules"
	ClassifierOpenAI = classifier.ProviderOpenAI
	ClassifierGemini = classifier.ProviderGemini
	ClassifierMock   = "mock"
)

// Ledger backends
const (
	LedgerSimulated = "simulated"
	LedgerHTTP      = "http"
	LedgerKafka     = "kafka"
)

// Config holds all configuration for air-guardian
type Config struct {
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Predictor     PredictorConfig     `yaml:"predictor"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Cache         CacheConfig         `yaml:"cache"`
	Archive       ArchiveConfig       `yaml:"archive"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PipelineConfig holds windowing settings
type PipelineConfig struct {
	WindowSize int `yaml:"windowSize"`
}

// PredictorConfig selects and tunes the forecasting backend
type PredictorConfig struct {
	Backend      string        `yaml:"backend"`
	ArtifactPath string        `yaml:"artifactPath"`
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MockValue    float64       `yaml:"mockValue"` // point estimate returned by the mock backend
}

// ClassifierConfig selects the air-source classifier
type ClassifierConfig struct {
	Backend     string        `yaml:"backend"`
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LedgerConfig selects where audit events are appended
type LedgerConfig struct {
	Backend      string        `yaml:"backend"`
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"apiKey"`
	KafkaBrokers []string      `yaml:"kafkaBrokers"`
	KafkaTopic   string        `yaml:"kafkaTopic"`
	Timeout      time.Duration `yaml:"timeout"`
	JournalSize  int           `yaml:"journalSize"`
}

// CacheConfig holds snapshot cache and Redis mirror settings
type CacheConfig struct {
	RedisEnabled  bool          `yaml:"redisEnabled"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	MirrorTTL     time.Duration `yaml:"mirrorTTL"`
	MirrorTimeout time.Duration `yaml:"mirrorTimeout"`
}

// ArchiveConfig holds reading and decision archive settings
type ArchiveConfig struct {
	SQLitePath      string        `yaml:"sqlitePath"` // empty disables the reading archive
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	ClickHouseEnabled  bool   `yaml:"clickhouseEnabled"`
	ClickHouseAddr     string `yaml:"clickhouseAddr"`
	ClickHouseDatabase string `yaml:"clickhouseDatabase"`
	ClickHouseUsername string `yaml:"clickhouseUsername"`
	ClickHousePassword string `yaml:"clickhousePassword"`
}

// MQTTConfig holds broker settings for sensor ingest and fan commands
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"clientID"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ReadingTopic   string        `yaml:"readingTopic"`
	CommandTopic   string        `yaml:"commandTopic"`
	QoS            int           `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// ObservabilityConfig holds monitoring settings
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	LogLevel       string `yaml:"logLevel"`
}

// AIMode reports which classifier backend is active, as shown on dashboards
func (c *Config) AIMode() string {
	switch c.Classifier.Backend {
	case ClassifierOpenAI, ClassifierGemini:
		return "llm:" + c.Classifier.Backend
	default:
		return c.Classifier.Backend
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Pipeline.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive")
	}

	if err := c.validatePredictor(); err != nil {
		return fmt.Errorf("invalid predictor config: %v", err)
	}
	if err := c.validateClassifier(); err != nil {
		return fmt.Errorf("invalid classifier config: %v", err)
	}
	if err := c.validateLedger(); err != nil {
		return fmt.Errorf("invalid ledger config: %v", err)
	}

	if c.Cache.RedisEnabled {
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required when the mirror is enabled")
		}
		if c.Cache.MirrorTimeout <= 0 {
			return fmt.Errorf("mirror timeout must be positive")
		}
	}

	if c.Archive.SQLitePath != "" {
		if c.Archive.Retention <= 0 {
			return fmt.Errorf("archive retention must be positive")
		}
		if c.Archive.CleanupInterval <= 0 {
			return fmt.Errorf("archive cleanup interval must be positive")
		}
	}
	if c.Archive.ClickHouseEnabled && c.Archive.ClickHouseAddr == "" {
		return fmt.Errorf("clickhouse address is required when the sink is enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}

func (c *Config) validatePredictor() error {
	if c.Predictor.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	switch c.Predictor.Backend {
	case PredictorArtifact:
		if c.Predictor.ArtifactPath == "" {
			return fmt.Errorf("artifact path is required for the artifact backend")
		}
	case PredictorRemote:
		if c.Predictor.URL == "" {
			return fmt.Errorf("url is required for the remote backend")
		}
	case PredictorMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Predictor.Backend)
	}
	return nil
}

func (c *Config) validateClassifier() error {
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	switch c.Classifier.Backend {
	case ClassifierRules, ClassifierMock:
	case ClassifierOpenAI, ClassifierGemini:
		if c.Classifier.APIKey == "" {
			return fmt.Errorf("api key is required for the %s backend", c.Classifier.Backend)
		}
		if c.Classifier.Model == "" {
			return fmt.Errorf("model is required for the %s backend", c.Classifier.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Classifier.Backend)
	}
	return nil
}

func (c *Config) validateLedger() error {
	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Ledger.JournalSize <= 0 {
		return fmt.Errorf("journal size must be positive")
	}
	switch c.Ledger.Backend {
	case LedgerSimulated:
	case LedgerHTTP:
		if c.Ledger.URL == "" {
			return fmt.Errorf("url is required for the http backend")
		}
	case LedgerKafka:
		if len(c.Ledger.KafkaBrokers) == 0 || c.Ledger.KafkaTopic == "" {
			return fmt.Errorf("brokers and topic are required for the kafka backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Ledger.Backend)
	}
	return nil
}
