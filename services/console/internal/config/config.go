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
	Port                     string   `yaml:"port"`
	LogLevel                 string   `yaml:"logLevel"`
	LogsDir                  string   `yaml:"logsDir"`
	ChurnAPIURL              string   `yaml:"churnApiURL"`
	RequestTimeout           string   `yaml:"requestTimeout"`
	StagingDir               string   `yaml:"stagingDir"`
	PageSize                 int      `yaml:"pageSize"`
	NoticeCapacity           int      `yaml:"noticeCapacity"`
	BatchRefresh             string   `yaml:"batchRefresh"`
	MaxUploadBytes           int64    `yaml:"maxUploadBytes"`
	AllowedExtensions        []string `yaml:"allowedExtensions"`
	AllowedOrigins           []string `yaml:"allowedOrigins"`
	ServiceJWTPrivateKeyPath string   `yaml:"serviceJwtPrivateKeyPath"`
	ServiceJWTKeyID          string   `yaml:"serviceJwtKeyId"`
	ServiceJWTIssuer         string   `yaml:"serviceJwtIssuer"`
	ServiceJWTTTL            string   `yaml:"serviceJwtTtl"`
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
	if v := os.Getenv("CONSOLE_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_LOGS_DIR"); v != "" {
		cfg.LogsDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_CHURN_API_URL"); v != "" {
		cfg.ChurnAPIURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_STAGING_DIR"); v != "" {
		cfg.StagingDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.PageSize = n
		}
	}
	if v := os.Getenv("CONSOLE_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CONSOLE_BATCH_REFRESH"); v != "" {
		cfg.BatchRefresh = strings.TrimSpace(v)
	}
	if v := os.Getenv("CONSOLE_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if v := os.Getenv("CONSOLE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("SERVICE_JWT_PRIVATE_KEY_PATH"); v != "" {
		cfg.ServiceJWTPrivateKeyPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("SERVICE_JWT_KEY_ID"); v != "" {
		cfg.ServiceJWTKeyID = strings.TrimSpace(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.ChurnAPIURL) == "" {
		return errors.New("config: churnApiURL is required (set in config.yaml or CONSOLE_CHURN_API_URL)")
	}
	if strings.TrimSpace(cfg.StagingDir) == "" {
		return errors.New("config: stagingDir is required (set in config.yaml)")
	}
	if cfg.PageSize < 0 {
		return errors.New("config: pageSize must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.BatchRefresh)) {
	case "", "once", "each":
	default:
		return fmt.Errorf("config: batchRefresh must be once or each, got %q", cfg.BatchRefresh)
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if _, err := ParseDuration("requestTimeout", cfg.RequestTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("serviceJwtTtl", cfg.ServiceJWTTTL); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration setting; empty is zero.
func ParseDuration(name, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	return d, nil
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
