package main

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/archive"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/classifier"
	classifiermock "github.com/elevated-systems/air-guardian/pkg/airguardian/classifier/mock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/config"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/faults"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/ledger"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/pipeline"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/predictor"
	predictormock "github.com/elevated-systems/air-guardian/pkg/airguardian/predictor/mock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/readings"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/snapshot"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/transport/mqtt"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// components holds everything run starts and later closes
type components struct {
	clock        clock.Clock
	orchestrator *pipeline.Orchestrator
	cache        *snapshot.Cache
	archive      *archive.SQLiteArchive
	sink         *archive.ClickHouseSink
	kafka        *ledger.KafkaClient
	mqttClient   *mqtt.Client
}

func buildComponents(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	c := &components{clock: clock.RealClock{}}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	forecaster, err := buildForecaster(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cls, err := buildClassifier(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := c.buildLedger(cfg)
	if err != nil {
		return nil, err
	}

	var cacheOpts []snapshot.Option
	if cfg.Cache.RedisEnabled {
		mirror, err := snapshot.NewRedisMirror(ctx, snapshot.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.MirrorTTL,
		})
		if err != nil {
			return nil, err
		}
		cacheOpts = append(cacheOpts, snapshot.WithMirror(mirror, cfg.Cache.MirrorTimeout))
	}
	c.cache = snapshot.New(cacheOpts...)

	opts := []pipeline.Option{
		pipeline.WithClock(c.clock),
		pipeline.WithClassifierTimeout(cfg.Classifier.Timeout),
		pipeline.WithDetector(faults.NewDetector(cfg.Pipeline.WindowSize)),
		pipeline.WithAIMode(cfg.AIMode()),
	}

	if cfg.Archive.SQLitePath != "" {
		c.archive, err = archive.NewSQLiteArchive(cfg.Archive.SQLitePath, archive.WithClock(c.clock))
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithArchive(c.archive))
	}

	if cfg.Archive.ClickHouseEnabled {
		c.sink, err = archive.NewClickHouseSink(ctx, archive.ClickHouseConfig{
			Addr:     cfg.Archive.ClickHouseAddr,
			Database: cfg.Archive.ClickHouseDatabase,
			Username: cfg.Archive.ClickHouseUsername,
			Password: cfg.Archive.ClickHousePassword,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithSnapshotSink(c.sink))
	}

	if cfg.MQTT.Enabled {
		c.mqttClient, err = mqtt.NewClient(mqtt.ClientConfig{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		publisher := mqtt.NewPublisher(c.mqttClient.Native(), cfg.MQTT.CommandTopic, byte(cfg.MQTT.QoS), c.clock)
		opts = append(opts, pipeline.WithPublisher(publisher))
	}

	c.orchestrator = pipeline.New(
		readings.NewStore(cfg.Pipeline.WindowSize),
		forecaster,
		cls,
		c.cache,
		logger,
		opts...,
	)
	return c, nil
}

func buildForecaster(ctx context.Context, cfg *config.Config) (*predictor.Forecaster, error) {
	var impl predictor.Implementation
	switch cfg.Predictor.Backend {
	case config.PredictorArtifact:
		p, err := predictor.LoadArtifact(cfg.Predictor.ArtifactPath, cfg.Pipeline.WindowSize)
		if err != nil {
			return nil, err
		}
		klog.InfoS("Loaded model artifact", "path", cfg.Predictor.ArtifactPath, "kind", p.Kind(), "version", p.Version())
		impl = p
	case config.PredictorRemote:
		p := predictor.NewRemotePredictor(cfg.Predictor.URL, cfg.Predictor.Timeout)
		if err := p.CheckContract(ctx, cfg.Pipeline.WindowSize); err != nil {
			return nil, err
		}
		impl = p
	case config.PredictorMock:
		klog.InfoS("Using mock predictor", "value", cfg.Predictor.MockValue)
		impl = predictormock.New(cfg.Predictor.MockValue)
	default:
		return nil, fmt.Errorf("unknown predictor backend %q", cfg.Predictor.Backend)
	}
	return predictor.NewForecaster(impl, cfg.Pipeline.WindowSize, cfg.Predictor.Timeout)
}

func buildClassifier(cfg *config.Config) (classifier.Implementation, error) {
	switch cfg.Classifier.Backend {
	case config.ClassifierRules:
		return classifier.NewRuleClassifier(), nil
	case config.ClassifierMock:
		return classifiermock.New(types.LabelClean, 0.9), nil
	case config.ClassifierOpenAI, config.ClassifierGemini:
		return classifier.NewLLMClassifier(classifier.LLMConfig{
			Provider:  cfg.Classifier.Backend,
			URL:       cfg.Classifier.URL,
			APIKey:    cfg.Classifier.APIKey,
			Model:     cfg.Classifier.Model,
			MaxTokens: cfg.Classifier.MaxTokens,
			Timeout:   cfg.Classifier.Timeout,
		}, classifier.WithTemperature(cfg.Classifier.Temperature))
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Classifier.Backend)
	}
}

func (c *components) buildLedger(cfg *config.Config) (*ledger.Logger, error) {
	var client ledger.Client
	switch cfg.Ledger.Backend {
	case config.LedgerSimulated:
	case config.LedgerHTTP:
		client = ledger.NewHTTPClient(cfg.Ledger.URL, cfg.Ledger.Timeout, ledger.WithAPIKey(cfg.Ledger.APIKey))
	case config.LedgerKafka:
		k, err := ledger.NewKafkaClient(ledger.KafkaConfig{
			Brokers: cfg.Ledger.KafkaBrokers,
			Topic:   cfg.Ledger.KafkaTopic,
		})
		if err != nil {
			return nil, err
		}
		c.kafka = k
		client = k
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	return ledger.NewLogger(client,
		ledger.WithJournal(ledger.NewJournal(cfg.Ledger.JournalSize)),
		ledger.WithTimeout(cfg.Ledger.Timeout),
		ledger.WithClock(c.clock),
	), nil
}

// close releases every backend that was opened, in reverse order of use
func (c *components) close() {
	if c.mqttClient != nil {
		c.mqttClient.Close()
	}
	if c.cache != nil {
		c.cache.Close()
	}
	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			klog.ErrorS(err, "Failed to close decision sink")
		}
	}
	if c.archive != nil {
		if err := c.archive.Close(); err != nil {
			klog.ErrorS(err, "Failed to close reading archive")
		}
	}
	if c.kafka != nil {
		if err := c.kafka.Close(); err != nil {
			klog.ErrorS(err, "Failed to close kafka ledger")
		}
	}
}
