// Package config loads service settings from defaults, an optional
// config.yaml, a .env file and MRI_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const EnvPrefix = "MRI"

// Context is shared by the CLI subcommands. The root command fills Settings
// and Log before any subcommand runs.
type Context struct {
	ConfigFile string
	LogLevel   string
	Settings   *Config
	Log        zerolog.Logger
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
	Report   ReportConfig   `mapstructure:"report"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	BodyLimitMB     int           `mapstructure:"body_limit_mb"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ModelConfig struct {
	Path              string        `mapstructure:"path"`
	SharedLibraryPath string        `mapstructure:"shared_library_path"`
	InputName         string        `mapstructure:"input_name"`
	OutputName        string        `mapstructure:"output_name"`
	ClassifyTimeout   time.Duration `mapstructure:"classify_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PersistTimeout  time.Duration `mapstructure:"persist_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ReportConfig struct {
	Compress bool `mapstructure:"compress"`
}

// SecretsConfig holds credentials used by the news and chat pages. They
// are optional; Missing lists the absent ones so callers can warn.
type SecretsConfig struct {
	NewsAPIKey string `mapstructure:"news_api"`
	HFEmail    string `mapstructure:"hf_gmail"`
	HFPass     string `mapstructure:"hf_pass"`
	BasePrompt string `mapstructure:"base_prompt"`
}

// Missing returns the names of unset secrets.
func (s SecretsConfig) Missing() []string {
	var missing []string
	if s.NewsAPIKey == "" {
		missing = append(missing, "NEWS_API")
	}
	if s.HFEmail == "" {
		missing = append(missing, "HF_GMAIL")
	}
	if s.HFPass == "" {
		missing = append(missing, "HF_PASS")
	}
	return missing
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8088")
	v.SetDefault("server.grpc_addr", ":8008")
	v.SetDefault("server.body_limit_mb", 10)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("model.path", "model/alzheimer.onnx")
	v.SetDefault("model.shared_library_path", "")
	v.SetDefault("model.input_name", "input_1")
	v.SetDefault("model.output_name", "dense_1")
	v.SetDefault("model.classify_timeout", 30*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=patient_db port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.persist_timeout", 5*time.Second)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "mri-scans")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("report.compress", true)

	v.SetDefault("secrets.news_api", "")
	v.SetDefault("secrets.hf_gmail", "")
	v.SetDefault("secrets.hf_pass", "")
	v.SetDefault("secrets.base_prompt", "Analyze the user's symptoms and provide insights.")
}

// bindLegacySecrets lets the legacy secret names (NEWS_API, HF_GMAIL, ...)
// work without the MRI_ prefix.
func bindLegacySecrets(v *viper.Viper) error {
	for key, env := range map[string]string{
		"secrets.news_api":    "NEWS_API",
		"secrets.hf_gmail":    "HF_GMAIL",
		"secrets.hf_pass":     "HF_PASS",
		"secrets.base_prompt": "BASE_PROMPT",
	} {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return err
		}
	}
	return nil
}

// Load reads configuration. configFile may be empty, in which case
// config.yaml is searched in the working directory and
// $HOME/.mri-inference-service. A missing file is not an error.
func Load(configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacySecrets(v); err != nil {
		return nil, fmt.Errorf("error binding secret env vars: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mri-inference-service"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later in confusing ways.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres, mysql or sqlite, got %q", c.Database.Driver)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Server.BodyLimitMB <= 0 {
		return fmt.Errorf("server.body_limit_mb must be positive")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}
	return nil
}
