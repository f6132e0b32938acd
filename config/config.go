package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all gateway configuration in a structured way.
type Config struct {
	App        AppConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Supervisor SupervisorConfig
	Queue      QueueConfig
	Webhook    WebhookConfig
	Proxy      ProxyConfig
}

type AppConfig struct {
	Version          string
	Port             string
	Debug            bool
	OS               string
	DefaultAdminUser string
	DefaultAdminPass string
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

type PathsConfig struct {
	BaseDir     string
	SessionsDir string
	BinPath     string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string // file path for sqlite, db name for postgres
}

type SupervisorConfig struct {
	HealthCheckInterval time.Duration
	StopTimeout         time.Duration
	PortBase            int
	PortMax             int
	MirrorConnectDelay  time.Duration
}

type QueueConfig struct {
	Interval      time.Duration
	JobTimeout    time.Duration
	MaxIdleTime   time.Duration
	SweepInterval time.Duration
}

type WebhookConfig struct {
	Timeout     time.Duration
	MaxAttempts int
}

type ProxyConfig struct {
	Timeout     time.Duration
	QRReadDelay time.Duration
}

// Global provides access to the loaded configuration. Set once by LoadConfig.
var Global *Config

const defaultInstallRoot = "/opt/whatsapp-gateway"

// LoadConfig builds the configuration from environment variables (viper
// AutomaticEnv, so flags bound by cmd override too) and defaults.
func LoadConfig() (*Config, error) {
	viper.AutomaticEnv()

	viper.SetDefault("api_port", "3000")
	viper.SetDefault("api_rate_limit", 100)
	viper.SetDefault("default_admin_user", "admin")
	viper.SetDefault("default_admin_pass", "admin")
	viper.SetDefault("health_check_interval", 30000)
	viper.SetDefault("port_base", 8000)
	viper.SetDefault("port_max", 1000)
	viper.SetDefault("db_driver", "sqlite")
	viper.SetDefault("db_port", 5432)

	baseDir := viper.GetString("app_base_dir")
	if baseDir == "" {
		baseDir = resolveBaseDir()
	}

	sessionsDir := viper.GetString("sessions_dir")
	if sessionsDir == "" {
		// VOLUMES_DIR is the legacy name for the same location.
		sessionsDir = viper.GetString("volumes_dir")
	}
	if sessionsDir == "" {
		sessionsDir = filepath.Join(baseDir, "sessions")
	}

	binPath := viper.GetString("bin_path")
	if binPath == "" {
		binPath = filepath.Join(baseDir, "bin", "whatsapp")
	}

	dbName := viper.GetString("db_name")
	if dbName == "" {
		dbName = filepath.Join(baseDir, "gateway.db")
	}

	cfg := &Config{
		App: AppConfig{
			Version:          "v1.4.0",
			Port:             viper.GetString("api_port"),
			Debug:            viper.GetBool("app_debug"),
			OS:               "Chrome",
			DefaultAdminUser: viper.GetString("default_admin_user"),
			DefaultAdminPass: viper.GetString("default_admin_pass"),
			RateLimitMax:     viper.GetInt("api_rate_limit"),
			RateLimitWindow:  15 * time.Minute,
		},
		Paths: PathsConfig{
			BaseDir:     baseDir,
			SessionsDir: sessionsDir,
			BinPath:     binPath,
		},
		Database: DatabaseConfig{
			Driver:   viper.GetString("db_driver"),
			Host:     viper.GetString("db_host"),
			Port:     viper.GetInt("db_port"),
			User:     viper.GetString("db_user"),
			Password: viper.GetString("db_password"),
			Name:     dbName,
		},
		Supervisor: SupervisorConfig{
			HealthCheckInterval: time.Duration(viper.GetInt("health_check_interval")) * time.Millisecond,
			StopTimeout:         10 * time.Second,
			PortBase:            viper.GetInt("port_base"),
			PortMax:             viper.GetInt("port_max"),
			MirrorConnectDelay:  5 * time.Second,
		},
		Queue: QueueConfig{
			Interval:      1 * time.Second,
			JobTimeout:    30 * time.Second,
			MaxIdleTime:   1 * time.Hour,
			SweepInterval: 30 * time.Minute,
		},
		Webhook: WebhookConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
		},
		Proxy: ProxyConfig{
			Timeout:     30 * time.Second,
			QRReadDelay: 1 * time.Second,
		},
	}

	if cfg.Supervisor.PortBase <= 0 || cfg.Supervisor.PortMax <= 0 {
		return nil, fmt.Errorf("invalid port window: base=%d max=%d", cfg.Supervisor.PortBase, cfg.Supervisor.PortMax)
	}

	Global = cfg
	return cfg, nil
}

// SessionPath returns the per-instance session directory.
func (c *Config) SessionPath(hash string) string {
	return filepath.Join(c.Paths.SessionsDir, hash)
}

// resolveBaseDir falls back to a local data directory when the conventional
// install root is absent (dev environments).
func resolveBaseDir() string {
	if info, err := os.Stat(defaultInstallRoot); err == nil && info.IsDir() {
		return defaultInstallRoot
	}
	return "data"
}
