package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Ethernal-Tech/cardano-projector/enrichment"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/Ethernal-Tech/cardano-projector/indexer/gouroboros"
	"github.com/Ethernal-Tech/cardano-projector/indexer/ogmios"
	"github.com/Ethernal-Tech/cardano-projector/logger"
	"github.com/Ethernal-Tech/cardano-projector/pipeline"
	"github.com/Ethernal-Tech/cardano-projector/reducers"
	"github.com/Ethernal-Tech/cardano-projector/storage"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

const (
	SourceKindNode   = "node"
	SourceKindOgmios = "ogmios"

	EnrichmentBackendLevelDB = "leveldb"
	EnrichmentBackendBadger  = "badger"
	EnrichmentBackendRedis   = "redis"

	StorageBackendBBolt = "bbolt"
	StorageBackendRedis = "redis"
)

// SourceConfig selects the chain source. The node-to-node fields live at the top level.
type SourceConfig struct {
	Kind string `yaml:"kind"`

	gouroboros.BlockSyncerConfig `yaml:",inline"`

	Ogmios ogmios.BlockSyncerConfig `yaml:"ogmios"`
}

type ConfirmationConfig struct {
	MinDepth uint `yaml:"minDepth"`
}

type BlockStoreConfig struct {
	Path      string `yaml:"path"`
	Retention uint64 `yaml:"retention"`
}

type EnrichmentConfig struct {
	Backend string `yaml:"backend"`
	// directory for badger, file for leveldb, empty badger path means in memory
	Path        string                 `yaml:"path"`
	Redis       enrichment.RedisConfig `yaml:"redis"`
	Concurrency int                    `yaml:"concurrency"`
	ChunkSize   int                    `yaml:"chunkSize"`
}

type StorageConfig struct {
	Backend   string              `yaml:"backend"`
	Path      string              `yaml:"path"`
	Redis     storage.RedisConfig `yaml:"redis"`
	BatchSize int                 `yaml:"batchSize"`
}

type RetrySection struct {
	Storage pipeline.RetryConfig `yaml:"storage"`
	// used while connecting to networked backends
	Transport pipeline.RetryConfig `yaml:"transport"`
}

type MetricsConfig struct {
	// metrics endpoint is disabled when empty
	ListenAddress string `yaml:"listenAddress"`
}

type Config struct {
	Source        SourceConfig              `yaml:"source"`
	StartingPoint string                    `yaml:"startingPoint"`
	Confirmation  ConfirmationConfig        `yaml:"confirmation"`
	BlockStore    BlockStoreConfig          `yaml:"blockStore"`
	Enrichment    EnrichmentConfig          `yaml:"enrichment"`
	Reducers      []reducers.Config         `yaml:"reducers"`
	Storage       StorageConfig             `yaml:"storage"`
	Policy        indexer.ErrorPolicyConfig `yaml:"policy"`
	Retry         RetrySection              `yaml:"retry"`
	Workers       pipeline.WorkersConfig    `yaml:"workers"`
	Logger        logger.LoggerConfig       `yaml:"logger"`
	Metrics       MetricsConfig             `yaml:"metrics"`
}

// Default returns the configuration every loaded file is merged onto.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Kind: SourceKindNode,
			BlockSyncerConfig: gouroboros.BlockSyncerConfig{
				RestartOnError: true,
				RestartDelay:   time.Second * 2,
				KeepAlive:      true,
			},
			Ogmios: ogmios.BlockSyncerConfig{
				RestartOnError: true,
				RestartDelay:   time.Second * 2,
			},
		},
		Confirmation: ConfirmationConfig{
			MinDepth: 10,
		},
		BlockStore: BlockStoreConfig{
			Path:      "data/blocks.db",
			Retention: 2160,
		},
		Enrichment: EnrichmentConfig{
			Backend:     EnrichmentBackendLevelDB,
			Path:        "data/enrichment",
			Concurrency: 4,
			ChunkSize:   256,
		},
		Storage: StorageConfig{
			Backend:   StorageBackendBBolt,
			Path:      "data/projection.db",
			BatchSize: 1000,
		},
		Policy: indexer.DefaultErrorPolicyConfig(),
		Retry: RetrySection{
			Storage: pipeline.RetryConfig{
				Attempts:     5,
				InitialDelay: time.Millisecond * 500,
				MaxDelay:     time.Second * 30,
			},
			Transport: pipeline.RetryConfig{
				Attempts:     10,
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
			},
		},
		Workers: pipeline.WorkersConfig{
			ChannelSize:     16,
			IdleTimeout:     time.Second * 10,
			TickTimeout:     time.Second * 5,
			MonitorInterval: time.Second * 15,
		},
		Logger: logger.LoggerConfig{
			LogLevel: hclog.Info,
			Name:     "projector",
		},
	}
}

// Load reads a yaml file over the defaults and validates the result.
func Load(filePath string) (*Config, error) {
	bytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(bytes)
}

func Parse(bytes []byte) (*Config, error) {
	config := Default()

	if err := yaml.Unmarshal(bytes, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Kind {
	case SourceKindNode:
		if strings.TrimSpace(c.Source.NodeAddress) == "" {
			errs = append(errs, errors.New("source.nodeAddress is required"))
		}
	case SourceKindOgmios:
		if strings.TrimSpace(c.Source.Ogmios.URL) == "" {
			errs = append(errs, errors.New("source.ogmios.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source kind: %s", c.Source.Kind))
	}

	if _, err := c.StartPoint(); err != nil {
		errs = append(errs, err)
	}

	if c.BlockStore.Retention == 0 {
		errs = append(errs, errors.New("blockStore.retention must be positive"))
	} else if c.BlockStore.Retention <= uint64(c.Confirmation.MinDepth) {
		errs = append(errs, fmt.Errorf("blockStore.retention %d must be greater than confirmation.minDepth %d",
			c.BlockStore.Retention, c.Confirmation.MinDepth))
	}

	if c.BlockStore.Path == "" {
		errs = append(errs, errors.New("blockStore.path is required"))
	}

	switch c.Enrichment.Backend {
	case EnrichmentBackendLevelDB:
		if c.Enrichment.Path == "" {
			errs = append(errs, errors.New("enrichment.path is required for leveldb"))
		}
	case EnrichmentBackendBadger:
	case EnrichmentBackendRedis:
		if c.Enrichment.Redis.Address == "" {
			errs = append(errs, errors.New("enrichment.redis.address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown enrichment backend: %s", c.Enrichment.Backend))
	}

	switch c.Storage.Backend {
	case StorageBackendBBolt:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for bbolt"))
		}
	case StorageBackendRedis:
		if c.Storage.Redis.Address == "" {
			errs = append(errs, errors.New("storage.redis.address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend: %s", c.Storage.Backend))
	}

	if len(c.Reducers) == 0 {
		errs = append(errs, errors.New("at least one reducer is required"))
	}

	for i, reducer := range c.Reducers {
		if err := reducer.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("reducers[%d]: %w", i, err))
		}
	}

	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}

	if c.Retry.Storage.Attempts <= 0 || c.Retry.Transport.Attempts <= 0 {
		errs = append(errs, errors.New("retry attempts must be positive"))
	}

	if c.Retry.Storage.BackoffMultiplier < 0 || c.Retry.Transport.BackoffMultiplier < 0 {
		errs = append(errs, errors.New("retry backoffMultiplier must not be negative"))
	}

	return errors.Join(errs...)
}

// StartPoint returns the configured starting point, nil when sync should start from the origin.
func (c *Config) StartPoint() (*indexer.Point, error) {
	point, err := indexer.ParsePoint(c.StartingPoint)
	if err != nil {
		return nil, fmt.Errorf("startingPoint: %w", err)
	}

	if point.IsOrigin() {
		return nil, nil
	}

	return &point, nil
}

func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MinDepth:     c.Confirmation.MinDepth,
		BatchSize:    c.Storage.BatchSize,
		Workers:      c.Workers,
		StorageRetry: c.Retry.Storage,
		Policy:       c.Policy,
	}
}

func (c *Config) CacheConfig() enrichment.CacheConfig {
	return enrichment.CacheConfig{
		Concurrency: c.Enrichment.Concurrency,
		ChunkSize:   c.Enrichment.ChunkSize,
	}
}
