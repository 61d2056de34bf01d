package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	LogsDir        string   `yaml:"logsDir"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	DatabaseURL string `yaml:"databaseURL"`

	StorageDir     string `yaml:"storageDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	LLMProvider string `yaml:"llmProvider"`
	LLMBaseURL  string `yaml:"llmBaseURL"`
	LLMAPIKey   string `yaml:"llmApiKey"`
	LLMModel    string `yaml:"llmModel"`

	OCRCommand        string `yaml:"ocrCommand"`
	OCRTimeoutSeconds int    `yaml:"ocrTimeoutSeconds"`

	MaxUploadBytes    int64 `yaml:"maxUploadBytes"`
	UploadConcurrency int   `yaml:"uploadConcurrency"`

	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`

	ServiceJWTPublicKeyPath    string   `yaml:"serviceJwtPublicKeyPath"`
	ServiceJWTVerifyPublicKeys string   `yaml:"serviceJwtVerifyPublicKeys"`
	ServiceJWTKeyID            string   `yaml:"serviceJwtKeyId"`
	ServiceJWTAllowedIssuers   []string `yaml:"serviceJwtAllowedIssuers"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCIDRs"`
}

// Path returns CONFIG_PATH when set, else ConfigPath.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml). A .env file in the
// working directory is loaded first when present.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "CHURN_PORT")
	setString(&cfg.LogLevel, "CHURN_LOG_LEVEL")
	setString(&cfg.LogsDir, "CHURN_LOGS_DIR")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.StorageDir, "CHURN_STORAGE_DIR")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.LLMProvider, "CHURN_LLM_PROVIDER")
	setString(&cfg.LLMBaseURL, "CHURN_LLM_BASE_URL")
	setString(&cfg.LLMModel, "CHURN_LLM_MODEL")
	setString(&cfg.LLMAPIKey, "GROQ_API_KEY")
	setString(&cfg.LLMAPIKey, "CHURN_LLM_API_KEY")
	setString(&cfg.OCRCommand, "CHURN_OCR_COMMAND")
	setString(&cfg.ServiceJWTPublicKeyPath, "SERVICE_JWT_PUBLIC_KEY_PATH")
	setString(&cfg.ServiceJWTVerifyPublicKeys, "SERVICE_JWT_VERIFY_PUBLIC_KEYS")
	setString(&cfg.ServiceJWTKeyID, "SERVICE_JWT_KEY_ID")
	setInt(&cfg.QueueConcurrency, "CHURN_QUEUE_CONCURRENCY")
	setInt(&cfg.UploadConcurrency, "CHURN_UPLOAD_CONCURRENCY")
	setInt(&cfg.RateLimitPerMinute, "CHURN_RATE_LIMIT_PER_MINUTE")
	if v := os.Getenv("CHURN_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("CHURN_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("SERVICE_JWT_ALLOWED_ISSUERS"); v != "" {
		cfg.ServiceJWTAllowedIssuers = splitCSV(v)
	}
	if v := os.Getenv("CHURN_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) == "" && strings.TrimSpace(cfg.StorageDir) == "" {
		return errors.New("config: storageDir or minioEndpoint is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" && strings.TrimSpace(cfg.MinioBucket) == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if cfg.QueueConcurrency < 0 || cfg.QueueMaxRetries < 0 || cfg.QueueRetryDelaySeconds < 0 {
		return errors.New("config: queue settings must be >= 0")
	}
	if cfg.UploadConcurrency < 0 {
		return errors.New("config: uploadConcurrency must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.OCRTimeoutSeconds < 0 {
		return errors.New("config: ocrTimeoutSeconds must be >= 0")
	}
	if strings.TrimSpace(cfg.ServiceJWTPublicKeyPath) != "" || strings.TrimSpace(cfg.ServiceJWTVerifyPublicKeys) != "" {
		if len(cfg.ServiceJWTAllowedIssuers) == 0 {
			return errors.New("config: serviceJwtAllowedIssuers is required when service token verification is enabled")
		}
	}
	return nil
}

// RetryDelay converts QueueRetryDelaySeconds to a duration.
func (c FileConfig) RetryDelay() time.Duration {
	return time.Duration(c.QueueRetryDelaySeconds) * time.Second
}

// OCRTimeout converts OCRTimeoutSeconds to a duration.
func (c FileConfig) OCRTimeout() time.Duration {
	return time.Duration(c.OCRTimeoutSeconds) * time.Second
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
