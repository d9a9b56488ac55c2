package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"production"`
	API     APIConfig     `yaml:"api"`
	Upload  UploadConfig  `yaml:"upload"`
	Storage StorageConfig `yaml:"storage"`
	Stream  StreamConfig  `yaml:"stream"`
	Redis   RedisConfig   `yaml:"redis"`
}

type APIConfig struct {
	BaseURL      string `yaml:"base_url" env:"API_BASE_URL" env-default:"http://localhost:8080"`
	SessionToken string `yaml:"session_token" env:"SESSION_TOKEN"`
}

type UploadConfig struct {
	BaseURL     string        `yaml:"base_url" env:"UPLOAD_BASE_URL"`
	Preset      string        `yaml:"preset" env:"UPLOAD_PRESET"`
	Namespace   string        `yaml:"namespace" env:"UPLOAD_NAMESPACE"`
	TaskTimeout time.Duration `yaml:"task_timeout" env:"UPLOAD_TASK_TIMEOUT" env-default:"10m"`
}

// StorageConfig selects the upload backend: "hosted" posts to the per-kind
// media endpoints, "s3" writes straight to an S3-compatible bucket.
type StorageConfig struct {
	Backend string   `yaml:"backend" env:"STORAGE_BACKEND" env-default:"hosted"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"lesson-assets"`
	UseSSL          bool   `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"false"`
}

type StreamConfig struct {
	URL         string        `yaml:"url" env:"STREAM_URL"`
	Transport   string        `yaml:"transport" env:"STREAM_TRANSPORT" env-default:"sse"`
	BackoffBase time.Duration `yaml:"backoff_base" env:"STREAM_BACKOFF_BASE" env-default:"5s"`
	BackoffMax  time.Duration `yaml:"backoff_max" env:"STREAM_BACKOFF_MAX" env-default:"1m"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Address  string `yaml:"address" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// MustLoad reads the config file named by CONFIG_PATH and exits on any
// problem. The CLI maps its -config flag onto CONFIG_PATH before calling.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("config path must be provided via CONFIG_PATH or -config")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist at path: %s", configPath)
	}

	var cfg Config

	err := cleanenv.ReadConfig(configPath, &cfg)

	if err != nil {
		log.Fatalf("failed to read config: %s", err)
	}

	return &cfg
}
