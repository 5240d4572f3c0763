package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PipelineConfig tunes the rating ingestion pipeline. Values can be changed
// at runtime by editing pipeline.yml.
type PipelineConfig struct {
	DrainInterval  time.Duration `mapstructure:"drainInterval"`
	DrainBatchSize int           `mapstructure:"drainBatchSize"`
	DrainTimeout   time.Duration `mapstructure:"drainTimeout"`
	DrainLockTTL   time.Duration `mapstructure:"drainLockTTL"`

	DuplicateTTL    time.Duration `mapstructure:"duplicateTTL"`
	RecentWindow    time.Duration `mapstructure:"recentWindow"`
	PersistJitter   time.Duration `mapstructure:"persistJitter"`
	PersistAttempts int           `mapstructure:"persistAttempts"`
	StatsDelay      time.Duration `mapstructure:"statsDelay"`
	StatsAttempts   int           `mapstructure:"statsAttempts"`

	SweepInterval  time.Duration `mapstructure:"sweepInterval"`
	SweepBatchSize int           `mapstructure:"sweepBatchSize"`
	SweepJitter    time.Duration `mapstructure:"sweepJitter"`

	IndexDebounce    time.Duration `mapstructure:"indexDebounce"`
	IndexRetryDelay  time.Duration `mapstructure:"indexRetryDelay"`
	IndexMaxRetries  int           `mapstructure:"indexMaxRetries"`
	DocumentRetry    time.Duration `mapstructure:"documentRetry"`
	BulkSyncPause    time.Duration `mapstructure:"bulkSyncPause"`
	BulkSyncBatch    int           `mapstructure:"bulkSyncBatch"`
	BulkSyncMinRatio float64       `mapstructure:"bulkSyncMinRatio"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		DrainInterval:  2 * time.Second,
		DrainBatchSize: 200,
		DrainTimeout:   10 * time.Second,
		DrainLockTTL:   30 * time.Second,

		DuplicateTTL:    time.Hour,
		RecentWindow:    24 * time.Hour,
		PersistJitter:   2 * time.Second,
		PersistAttempts: 3,
		StatsDelay:      3 * time.Second,
		StatsAttempts:   2,

		SweepInterval:  5 * time.Minute,
		SweepBatchSize: 50,
		SweepJitter:    10 * time.Second,

		IndexDebounce:    5 * time.Second,
		IndexRetryDelay:  10 * time.Second,
		IndexMaxRetries:  5,
		DocumentRetry:    30 * time.Second,
		BulkSyncPause:    time.Second,
		BulkSyncBatch:    20,
		BulkSyncMinRatio: 0.8,
	}
}

// WithDefaults fills every unset field from DefaultPipelineConfig.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	d := DefaultPipelineConfig()
	if c.DrainInterval <= 0 {
		c.DrainInterval = d.DrainInterval
	}
	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = d.DrainBatchSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.DrainLockTTL <= 0 {
		c.DrainLockTTL = d.DrainLockTTL
	}
	if c.DuplicateTTL <= 0 {
		c.DuplicateTTL = d.DuplicateTTL
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	if c.PersistJitter < 0 {
		c.PersistJitter = d.PersistJitter
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = d.PersistAttempts
	}
	if c.StatsDelay < 0 {
		c.StatsDelay = d.StatsDelay
	}
	if c.StatsAttempts <= 0 {
		c.StatsAttempts = d.StatsAttempts
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = d.SweepBatchSize
	}
	if c.SweepJitter < 0 {
		c.SweepJitter = d.SweepJitter
	}
	if c.IndexDebounce <= 0 {
		c.IndexDebounce = d.IndexDebounce
	}
	if c.IndexRetryDelay <= 0 {
		c.IndexRetryDelay = d.IndexRetryDelay
	}
	if c.IndexMaxRetries < 0 {
		c.IndexMaxRetries = d.IndexMaxRetries
	}
	if c.DocumentRetry <= 0 {
		c.DocumentRetry = d.DocumentRetry
	}
	if c.BulkSyncPause < 0 {
		c.BulkSyncPause = d.BulkSyncPause
	}
	if c.BulkSyncBatch <= 0 {
		c.BulkSyncBatch = d.BulkSyncBatch
	}
	if c.BulkSyncMinRatio <= 0 || c.BulkSyncMinRatio > 1 {
		c.BulkSyncMinRatio = d.BulkSyncMinRatio
	}
	return c
}

type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewStaticPipelineConfig returns a holder that never reloads.
func NewStaticPipelineConfig(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg.WithDefaults())
	return holder
}

func NewPipelineConfigHolder(log *zap.Logger) (*PipelineConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.pipeline")

	v := viper.New()

	v.SetConfigName("pipeline")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/marquee")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MARQUEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg PipelineConfig
	if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if err := validatePipelineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		log.Info("pipeline.yml not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PipelineConfig
		if err := v.UnmarshalKey("pipeline", &updated); err != nil {
			log.Warn("pipeline config reload failed", zap.Error(err))
			return
		}
		updated = updated.WithDefaults()
		if err := validatePipelineConfig(updated); err != nil {
			log.Warn("invalid pipeline config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pipeline config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	if h == nil {
		return DefaultPipelineConfig()
	}
	cfg, ok := h.current.Load().(PipelineConfig)
	if !ok {
		return DefaultPipelineConfig()
	}
	return cfg
}

func validatePipelineConfig(cfg PipelineConfig) error {
	if cfg.DrainBatchSize > 10_000 {
		return errors.New("pipeline.drainBatchSize must not exceed 10000")
	}
	if cfg.IndexRetryDelay < cfg.IndexDebounce {
		return errors.New("pipeline.indexRetryDelay must be at least pipeline.indexDebounce")
	}
	return nil
}
