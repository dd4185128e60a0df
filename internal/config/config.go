// Package config loads dicomconv settings from defaults, an optional YAML
// file, an optional .env file and DICOMCONV_* environment variables, in
// that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Conversion ConversionConfig `yaml:"conversion"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"DICOMCONV_ADDR"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"DICOMCONV_CORS_ORIGINS"`
	TrustedProxies  []string      `yaml:"trusted_proxies" env:"DICOMCONV_TRUSTED_PROXIES"`
	MaxUploadMB     int64         `yaml:"max_upload_mb" env:"DICOMCONV_MAX_UPLOAD_MB"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"DICOMCONV_SHUTDOWN_TIMEOUT"`
}

// AuthConfig holds token and API key settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"DICOMCONV_JWT_SECRET"`
	JWTIssuer     string        `yaml:"jwt_issuer" env:"DICOMCONV_JWT_ISSUER"`
	JWTTTL        time.Duration `yaml:"jwt_ttl" env:"DICOMCONV_JWT_TTL"`
	APIKeys       []string      `yaml:"api_keys" env:"DICOMCONV_API_KEYS"`
	AdminUser     string        `yaml:"admin_user" env:"DICOMCONV_ADMIN_USER"`
	AdminPassword string        `yaml:"admin_password" env:"DICOMCONV_ADMIN_PASSWORD"`
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	DataDir      string `yaml:"data_dir" env:"DICOMCONV_DATA_DIR"`
	DatabasePath string `yaml:"database_path" env:"DICOMCONV_DB_PATH"`
	StagingDir   string `yaml:"staging_dir" env:"DICOMCONV_STAGING_DIR"`
	ArtifactDir  string `yaml:"artifact_dir" env:"DICOMCONV_ARTIFACT_DIR"`
	FailureLog   string `yaml:"failure_log" env:"DICOMCONV_FAILURE_LOG"`
}

// ConversionConfig holds conversion settings and external tool paths
type ConversionConfig struct {
	Workers        int    `yaml:"workers" env:"DICOMCONV_WORKERS"`
	DefaultQuality int    `yaml:"default_quality" env:"DICOMCONV_DEFAULT_QUALITY"`
	FFmpegPath     string `yaml:"ffmpeg_path" env:"DICOMCONV_FFMPEG"`
	PDFInfoPath    string `yaml:"pdfinfo_path" env:"DICOMCONV_PDFINFO"`
	PDFToPPMPath   string `yaml:"pdftoppm_path" env:"DICOMCONV_PDFTOPPM"`
	DcmtkPath      string `yaml:"dcmtk_path" env:"DICOMCONV_DCMTK"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level string `yaml:"level" env:"DICOMCONV_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"DICOMCONV_LOG_JSON"`
}

// Default returns a configuration with all default values set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			CORSOrigins:     []string{"*"},
			MaxUploadMB:     512,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			JWTIssuer: "dicomconv",
			JWTTTL:    60 * time.Minute,
			AdminUser: "admin",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Conversion: ConversionConfig{
			DefaultQuality: 95,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. configPath may be empty; a missing .env
// file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file: %w", err)
		}
	}

	// Variables already set in the environment win over .env entries.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not load .env: %w", err)
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDerived() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Storage.DataDir, "dicomconv.db")
	}
	if c.Storage.StagingDir == "" {
		c.Storage.StagingDir = filepath.Join(c.Storage.DataDir, "staging")
	}
	if c.Storage.ArtifactDir == "" {
		c.Storage.ArtifactDir = filepath.Join(c.Storage.DataDir, "artifacts")
	}
	if c.Storage.FailureLog == "" {
		c.Storage.FailureLog = filepath.Join(c.Storage.DataDir, "errors.log")
	}
	if c.Conversion.Workers == 0 {
		c.Conversion.Workers = min(runtime.NumCPU(), 8)
	}
}

// Validate checks settings that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Conversion.Workers < 1 {
		return fmt.Errorf("invalid worker count: %d", c.Conversion.Workers)
	}
	if q := c.Conversion.DefaultQuality; q < 1 || q > 100 {
		return fmt.Errorf("invalid default quality: %d", q)
	}
	if c.Auth.JWTTTL <= 0 {
		return fmt.Errorf("invalid jwt ttl: %s", c.Auth.JWTTTL)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d", c.Server.MaxUploadMB)
	}
	return nil
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		var values []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}
