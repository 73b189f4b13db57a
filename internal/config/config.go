package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clachance14/pipetrak/pkg/config"
)

type Config struct {
	DB     config.DBConfig     `yaml:"db"`
	MQ     config.MQConfig     `yaml:"mq"`
	Redis  config.RedisConfig  `yaml:"redis"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Server config.ServerConfig `yaml:"server"`

	CentralServer struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"central_server"`

	Sync struct {
		ProjectScope     string `yaml:"project_scope"`
		MaxRetries       int    `yaml:"max_retries"`
		RetryBaseMS      int    `yaml:"retry_base_ms"`
		RetryCapMS       int    `yaml:"retry_cap_ms"`
		DisplayWindowMS  int    `yaml:"display_window_ms"`
		DebounceMS       int    `yaml:"debounce_ms"`
		MaxWaitMS        int    `yaml:"max_wait_ms"`
		MaxBatchSize     int    `yaml:"max_batch_size"`
		BulkChunkSize    int    `yaml:"bulk_chunk_size"`
		ProbeIntervalSec int    `yaml:"probe_interval_sec"`
	} `yaml:"sync"`
}

func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var cfg Config
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	applyDefaults(&cfg)

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	if url := os.Getenv("CENTRAL_SERVER_URL"); url != "" {
		cfg.CentralServer.URL = url
	}
	if scope := os.Getenv("SYNC_PROJECT_SCOPE"); scope != "" {
		cfg.Sync.ProjectScope = scope
	}

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8085"
	}
	if cfg.CentralServer.TimeoutSeconds == 0 {
		cfg.CentralServer.TimeoutSeconds = 10
	}
	if cfg.Sync.ProjectScope == "" {
		cfg.Sync.ProjectScope = "default"
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.RetryBaseMS == 0 {
		cfg.Sync.RetryBaseMS = 1000
	}
	if cfg.Sync.RetryCapMS == 0 {
		cfg.Sync.RetryCapMS = 30000
	}
	if cfg.Sync.DisplayWindowMS == 0 {
		cfg.Sync.DisplayWindowMS = 2000
	}
	if cfg.Sync.DebounceMS == 0 {
		cfg.Sync.DebounceMS = 400
	}
	if cfg.Sync.MaxWaitMS == 0 {
		cfg.Sync.MaxWaitMS = 2000
	}
	if cfg.Sync.MaxBatchSize == 0 {
		cfg.Sync.MaxBatchSize = 25
	}
	if cfg.Sync.BulkChunkSize == 0 {
		cfg.Sync.BulkChunkSize = 50
	}
	if cfg.Sync.ProbeIntervalSec == 0 {
		cfg.Sync.ProbeIntervalSec = 15
	}
}
