package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	UsageBackendREST     = "rest"
	UsageBackendPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	S3        S3Config
	Vision    VisionConfig
	Datastore DatastoreConfig
	App       AppConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
	CreateBucket    bool

	// Presign selects signed, expiring read URLs. When false, PublicBaseURL + object id is used.
	Presign        bool
	PresignTTL     time.Duration
	PublicEndpoint string
	PublicBaseURL  string
}

type VisionConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type DatastoreConfig struct {
	Backend    string
	URL        string
	ServiceKey string
	DSN        string
}

type AppConfig struct {
	MaxUploadSize int64
	LogLevel      string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("S3_BUCKET_NAME", "")
	v.SetDefault("S3_REGION", "auto")
	v.SetDefault("S3_CREATE_BUCKET", false)
	v.SetDefault("S3_PRESIGN", true)
	v.SetDefault("S3_PRESIGN_TTL", 15*time.Minute)
	v.SetDefault("S3_PUBLIC_ENDPOINT", "")
	v.SetDefault("S3_PUBLIC_BASE_URL", "")
	v.SetDefault("VISION_API_URL", "https://api.openai.com/v1/vision/analyze")
	v.SetDefault("VISION_API_KEY", "")
	v.SetDefault("VISION_MODEL", "openai-vision")
	v.SetDefault("VISION_TIMEOUT", time.Duration(0))
	v.SetDefault("USAGE_BACKEND", UsageBackendREST)
	v.SetDefault("DATASTORE_URL", "")
	v.SetDefault("DATASTORE_SERVICE_KEY", "")
	v.SetDefault("DATASTORE_DSN", "")
	v.SetDefault("APP_MAX_UPLOAD_SIZE", 10*1024*1024) // 10MB
	v.SetDefault("LOG_LEVEL", "info")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetString("SERVER_PORT"),
		},
		S3: S3Config{
			Endpoint:        strings.TrimSpace(v.GetString("S3_ENDPOINT")),
			AccessKeyID:     strings.TrimSpace(v.GetString("S3_ACCESS_KEY_ID")),
			SecretAccessKey: strings.TrimSpace(v.GetString("S3_SECRET_ACCESS_KEY")),
			UseSSL:          v.GetBool("S3_USE_SSL"),
			BucketName:      strings.TrimSpace(v.GetString("S3_BUCKET_NAME")),
			Region:          v.GetString("S3_REGION"),
			CreateBucket:    v.GetBool("S3_CREATE_BUCKET"),
			Presign:         v.GetBool("S3_PRESIGN"),
			PresignTTL:      v.GetDuration("S3_PRESIGN_TTL"),
			PublicEndpoint:  strings.TrimSpace(v.GetString("S3_PUBLIC_ENDPOINT")),
			PublicBaseURL:   strings.TrimRight(strings.TrimSpace(v.GetString("S3_PUBLIC_BASE_URL")), "/"),
		},
		Vision: VisionConfig{
			URL:     v.GetString("VISION_API_URL"),
			APIKey:  strings.TrimSpace(v.GetString("VISION_API_KEY")),
			Model:   v.GetString("VISION_MODEL"),
			Timeout: v.GetDuration("VISION_TIMEOUT"),
		},
		Datastore: DatastoreConfig{
			Backend:    strings.ToLower(strings.TrimSpace(v.GetString("USAGE_BACKEND"))),
			URL:        strings.TrimRight(strings.TrimSpace(v.GetString("DATASTORE_URL")), "/"),
			ServiceKey: strings.TrimSpace(v.GetString("DATASTORE_SERVICE_KEY")),
			DSN:        strings.TrimSpace(v.GetString("DATASTORE_DSN")),
		},
		App: AppConfig{
			MaxUploadSize: v.GetInt64("APP_MAX_UPLOAD_SIZE"),
			LogLevel:      v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Datastore.Backend {
	case UsageBackendREST:
	case UsageBackendPostgres:
		if c.Datastore.DSN == "" {
			return fmt.Errorf("DATASTORE_DSN is required when USAGE_BACKEND is %q", UsageBackendPostgres)
		}
	default:
		return fmt.Errorf("unsupported USAGE_BACKEND %q", c.Datastore.Backend)
	}
	if c.S3.Presign && c.S3.PresignTTL <= 0 {
		return fmt.Errorf("S3_PRESIGN_TTL must be positive, got %s", c.S3.PresignTTL)
	}
	if c.App.MaxUploadSize <= 0 {
		c.App.MaxUploadSize = 10 * 1024 * 1024
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
