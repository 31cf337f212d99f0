package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port      string `yaml:"port" env:"SERVER_PORT"`
		PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	} `yaml:"server"`
	Database struct {
		// Driver is "mysql" or "sqlite".
		Driver string `yaml:"driver" env:"DB_DRIVER"`
		DSN    string `yaml:"dsn" env:"DB_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
		UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
		Domain    string `yaml:"domain" env:"MINIO_DOMAIN"`
	} `yaml:"minio"`
	Log       LogConfig       `yaml:"log"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// TriggerConfig controls how a queued run is started.
type TriggerConfig struct {
	// Mode is "http" (POST the execute endpoint), "queue" (enqueue directly) or "direct".
	Mode       string        `yaml:"mode" env:"TRIGGER_MODE"`
	// ExecuteURL is the base URL of the server exposing the execute endpoint.
	ExecuteURL string        `yaml:"execute_url" env:"TRIGGER_EXECUTE_URL"`
	Secret     string        `yaml:"secret" env:"TRIGGER_SECRET"`
	Timeout    time.Duration `yaml:"timeout" env:"TRIGGER_TIMEOUT"`
}

type PipelineConfig struct {
	Workers           int           `yaml:"workers" env:"PIPELINE_WORKERS"`
	SceneConcurrency  int           `yaml:"scene_concurrency" env:"PIPELINE_SCENE_CONCURRENCY"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
	VideoPollInterval time.Duration `yaml:"video_poll_interval"`
	VideoMaxAttempts  int           `yaml:"video_max_attempts"`
	RunTimeout        time.Duration `yaml:"run_timeout" env:"PIPELINE_RUN_TIMEOUT"`
	DefaultSceneCount int           `yaml:"default_scene_count"`
	AspectRatio       string        `yaml:"aspect_ratio"`
	Qualities         []string      `yaml:"qualities"`
	FFmpegPath        string        `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	WorkDir           string        `yaml:"work_dir" env:"PIPELINE_WORK_DIR"`
}

type ProvidersConfig struct {
	// SecretKey is the base64 32-byte key sealing provider credentials at rest.
	SecretKey   string             `yaml:"secret_key" env:"PROVIDER_SECRET_KEY"`
	Bindings    []BindingConfig    `yaml:"bindings"`
	Credentials []CredentialConfig `yaml:"credentials"`
}

type BindingConfig struct {
	Capability     string `yaml:"capability"`
	Primary        string `yaml:"primary"`
	Fallback       string `yaml:"fallback"`
	SimulationMode bool   `yaml:"simulation_mode"`
}

type CredentialConfig struct {
	Provider  string `yaml:"provider"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the plaintext key.
	APIKeyEnv string `yaml:"api_key_env"`
}

var AppConfig *Config

// Load reads the YAML file at path, then overlays .env and process environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := &Config{}
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Trigger.Mode == "" {
		c.Trigger.Mode = "queue"
	}
	if c.Trigger.Timeout <= 0 {
		c.Trigger.Timeout = 5 * time.Second
	}

	p := &c.Pipeline
	if p.Workers <= 0 {
		p.Workers = 5
	}
	if p.SceneConcurrency <= 0 {
		p.SceneConcurrency = 4
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 5 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 120
	}
	if p.VideoPollInterval <= 0 {
		p.VideoPollInterval = 10 * time.Second
	}
	if p.VideoMaxAttempts <= 0 {
		p.VideoMaxAttempts = 90
	}
	if p.RunTimeout <= 0 {
		p.RunTimeout = 2 * time.Hour
	}
	if p.DefaultSceneCount <= 0 {
		p.DefaultSceneCount = 5
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "16:9"
	}
	if len(p.Qualities) == 0 {
		p.Qualities = []string{"1080p", "720p", "480p"}
	}
	if p.FFmpegPath == "" {
		p.FFmpegPath = "ffmpeg"
	}
	if p.WorkDir == "" {
		p.WorkDir = os.TempDir()
	}
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.Trigger.Mode {
	case "queue", "direct":
	case "http":
		if c.Trigger.ExecuteURL == "" {
			problems = append(problems, "trigger.execute_url is required in http mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("trigger.mode %q is not supported", c.Trigger.Mode))
	}
	if c.Trigger.Secret == "" {
		problems = append(problems, "trigger.secret is required")
	}
	if c.Trigger.Mode != "direct" && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required unless trigger.mode is direct")
	}
	if c.MinIO.Endpoint != "" {
		if c.MinIO.Bucket == "" {
			problems = append(problems, "minio.bucket is required when minio.endpoint is set")
		}
		if c.MinIO.Domain == "" {
			problems = append(problems, "minio.domain is required when minio.endpoint is set")
		}
	}
	for _, q := range c.Pipeline.Qualities {
		if _, ok := QualityHeights[q]; !ok {
			problems = append(problems, fmt.Sprintf("pipeline.qualities: unknown tier %q", q))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// QualityHeights maps a rendition tier to its output height in pixels.
var QualityHeights = map[string]int{
	"2160p": 2160,
	"1440p": 1440,
	"1080p": 1080,
	"720p":  720,
	"480p":  480,
	"360p":  360,
}

// InitConfig loads the process-wide configuration from CONFIG_PATH or the default path.
func InitConfig() error {
	cfg, err := Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}
