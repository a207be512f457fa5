// Package config provides configuration management for dubarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8080
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultMaxUploadSizeBytes = 2 * 1024 * 1024 * 1024 // 2GB
	defaultPushQueueSize      = 64
	defaultTranslateTimeout   = 10 * time.Minute
	defaultCloneTimeout       = 30 * time.Minute
	defaultStageTimeout       = 15 * time.Minute
	defaultKillGracePeriod    = 10 * time.Second
	defaultProbeTimeout       = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Push     PushConfig     `mapstructure:"push"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// MaxUploadSize is a size limit for multipart video uploads. It is read
	// and validated here; no upload handler applies it.
	// Supports human-readable values like "2GB", or raw byte counts.
	MaxUploadSize ByteSize `mapstructure:"max_upload_size"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration. Every task's files live
// under BaseDir in the layout derived by the path manager.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// WorkerProfile configures the external worker program for one stage.
// Stages target mutually incompatible runtimes, so each gets its own
// executable, working directory, and environment additions.
type WorkerProfile struct {
	// Command is the worker executable path.
	Command string `mapstructure:"command"`
	// Args are prepended before the request document path.
	Args []string `mapstructure:"args"`
	// WorkDir is the working directory the worker runs in.
	WorkDir string `mapstructure:"work_dir"`
	// Env holds environment additions (KEY=VALUE resolution happens at spawn).
	Env map[string]string `mapstructure:"env"`
	// Timeout is the wall-clock limit for one run of this stage.
	Timeout time.Duration `mapstructure:"timeout"`
	// ModelPath points the worker at its model files, passed through in the
	// request document where the stage contract carries one.
	ModelPath string `mapstructure:"model_path"`
	// NumProcesses is forwarded to workers that fan out internally.
	NumProcesses int `mapstructure:"num_processes"`
}

// WorkersConfig holds per-stage worker profiles.
type WorkersConfig struct {
	Diarization  WorkerProfile `mapstructure:"diarization"`
	Translation  WorkerProfile `mapstructure:"translation"`
	VoiceCloning WorkerProfile `mapstructure:"voice_cloning"`
	Stitch       WorkerProfile `mapstructure:"stitch"`
	Export       WorkerProfile `mapstructure:"export"`
	// KillGracePeriod is how long to wait between SIGTERM and SIGKILL.
	KillGracePeriod time.Duration `mapstructure:"kill_grace_period"`
}

// PushConfig holds push channel configuration.
type PushConfig struct {
	// QueueSize bounds each subscriber's send queue; slow consumers are
	// dropped when it fills.
	QueueSize int `mapstructure:"queue_size"`
}

// FFmpegConfig holds media toolchain binary configuration.
type FFmpegConfig struct {
	ProbePath    string        `mapstructure:"probe_path"` // Path to ffprobe binary (empty = "ffprobe" on PATH)
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with DUBARR_ and use underscores for nesting.
// Example: DUBARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dubarr")
		v.AddConfigPath("$HOME/.dubarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("DUBARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Viper lower-cases every map key it reads, so worker environment
	// names are upper-cased here before they reach the spawned process.
	for _, p := range []*WorkerProfile{&cfg.Workers.Diarization, &cfg.Workers.Translation, &cfg.Workers.VoiceCloning, &cfg.Workers.Stitch, &cfg.Workers.Export} {
		if len(p.Env) == 0 {
			continue
		}
		env := make(map[string]string, len(p.Env))
		for k, val := range p.Env {
			env[strings.ToUpper(k)] = val
		}
		p.Env = env
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_size", defaultMaxUploadSizeBytes)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "dubarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Worker defaults. Commands are deployment-specific; timeouts follow the
	// stage cost profile (cloning is by far the slowest).
	v.SetDefault("workers.diarization.timeout", defaultStageTimeout)
	v.SetDefault("workers.translation.timeout", defaultTranslateTimeout)
	v.SetDefault("workers.translation.num_processes", 1)
	v.SetDefault("workers.voice_cloning.timeout", defaultCloneTimeout)
	v.SetDefault("workers.stitch.timeout", defaultStageTimeout)
	v.SetDefault("workers.export.timeout", defaultStageTimeout)
	v.SetDefault("workers.kill_grace_period", defaultKillGracePeriod)

	// Push defaults
	v.SetDefault("push.queue_size", defaultPushQueueSize)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Push validation
	if c.Push.QueueSize < 1 {
		return fmt.Errorf("push.queue_size must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Profile returns the worker profile for the given stage name, or false when
// the stage is unknown.
func (c *WorkersConfig) Profile(stage string) (WorkerProfile, bool) {
	switch stage {
	case "speaker_diarization":
		return c.Diarization, true
	case "translation":
		return c.Translation, true
	case "voice_cloning":
		return c.VoiceCloning, true
	case "stitch":
		return c.Stitch, true
	case "export":
		return c.Export, true
	}
	return WorkerProfile{}, false
}
