// Package config provides configuration management for labdabbler
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete configuration for the labdabbler daemon
type Config struct {
	// HTTP server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Runtime provider configuration
	Providers ProvidersConfig `yaml:"providers" json:"providers"`

	// Lab registry configuration
	Registry RegistryConfig `yaml:"registry" json:"registry"`

	// Launcher configuration
	Launcher LauncherConfig `yaml:"launcher" json:"launcher"`

	// Image catalog configuration
	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`

	// Topology scanner configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Monitoring configuration
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Security configuration
	Security SecurityConfig `yaml:"security" json:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	CORSEnabled        bool          `yaml:"cors_enabled" json:"cors_enabled"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" json:"cors_allowed_origins"`
}

// ProvidersConfig holds runtime provider factory configuration
type ProvidersConfig struct {
	// Path of the persisted provider configuration document
	ConfigPath string `yaml:"config_path" json:"config_path"`

	// Timeout for establishing SSH connections
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// RegistryConfig holds active-lab registry configuration
type RegistryConfig struct {
	Type string `yaml:"type" json:"type"` // "memory" or "badger"
	Path string `yaml:"path" json:"path"`
}

// LauncherConfig holds lab launcher configuration
type LauncherConfig struct {
	// Local scratch directory for downloaded topology files
	ScratchDir string `yaml:"scratch_dir" json:"scratch_dir"`

	// Remote directory where topology files are staged before deploy
	RemoteStageDir string `yaml:"remote_stage_dir" json:"remote_stage_dir"`

	// Timeout for a single deploy/destroy invocation
	DeployTimeout time.Duration `yaml:"deploy_timeout" json:"deploy_timeout"`
}

// CatalogConfig holds image catalog configuration
type CatalogConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	DockerEndpoint string        `yaml:"docker_endpoint" json:"docker_endpoint"`
	CacheTTL       time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// ScannerConfig holds topology scanner configuration
type ScannerConfig struct {
	// Local repository checkouts to walk for topology files
	RepoRoots []string `yaml:"repo_roots" json:"repo_roots"`

	// GitHub code search settings
	GitHubToken   string        `yaml:"github_token" json:"github_token"`
	SearchRetries int           `yaml:"search_retries" json:"search_retries"`
	SearchBackoff time.Duration `yaml:"search_backoff" json:"search_backoff"`

	// Maximum concurrent file parses during a local scan
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// MonitoringConfig holds monitoring and observability configuration
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics" json:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks" json:"health_checks"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// HealthChecksConfig holds health check configuration
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Authentication AuthenticationConfig `yaml:"authentication" json:"authentication"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
}

// AuthenticationConfig holds authentication configuration
type AuthenticationConfig struct {
	Enabled   bool      `yaml:"enabled" json:"enabled"`
	JWTConfig JWTConfig `yaml:"jwt" json:"jwt"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey      string        `yaml:"secret_key" json:"secret_key"`
	Issuer         string        `yaml:"issuer" json:"issuer"`
	ExpiryDuration time.Duration `yaml:"expiry_duration" json:"expiry_duration"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	GlobalLimit  int           `yaml:"global_limit" json:"global_limit"`
	GlobalWindow time.Duration `yaml:"global_window" json:"global_window"`
	ClientLimit  int           `yaml:"client_limit" json:"client_limit"`
	ClientWindow time.Duration `yaml:"client_window" json:"client_window"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	dataDir := defaultDataDir()

	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			IdleTimeout:        120 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			CORSEnabled:        true,
			CORSAllowedOrigins: []string{"*"},
		},
		Providers: ProvidersConfig{
			ConfigPath:     filepath.Join(dataDir, "providers.json"),
			ConnectTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			Type: "badger",
			Path: filepath.Join(dataDir, "registry"),
		},
		Launcher: LauncherConfig{
			ScratchDir:     filepath.Join(dataDir, "topologies"),
			RemoteStageDir: "/tmp/labdabbler",
			DeployTimeout:  10 * time.Minute,
		},
		Catalog: CatalogConfig{
			Enabled:  true,
			CacheTTL: 5 * time.Minute,
		},
		Scanner: ScannerConfig{
			SearchRetries: 3,
			SearchBackoff: time.Second,
			Concurrency:   8,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Host:      "0.0.0.0",
				Port:      9091,
				Path:      "/metrics",
				Namespace: "labdabbler",
				Subsystem: "launcher",
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Authentication: AuthenticationConfig{
				Enabled: false,
				JWTConfig: JWTConfig{
					ExpiryDuration: 24 * time.Hour,
				},
			},
			RateLimit: RateLimitConfig{
				Enabled:      false,
				GlobalLimit:  1000,
				GlobalWindow: time.Minute,
				ClientLimit:  100,
				ClientWindow: time.Minute,
			},
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("LABD_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./labdabbler-data"
	}
	return filepath.Join(home, ".labdabbler")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadConfigFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a YAML or JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv(config *Config) {
	if val := os.Getenv("LABD_HTTP_HOST"); val != "" {
		config.Server.Host = val
	}
	if val := os.Getenv("LABD_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.Port = port
		}
	}

	if val := os.Getenv("LABD_PROVIDERS_CONFIG"); val != "" {
		config.Providers.ConfigPath = val
	}

	if val := os.Getenv("LABD_REGISTRY_TYPE"); val != "" {
		config.Registry.Type = val
	}
	if val := os.Getenv("LABD_REGISTRY_PATH"); val != "" {
		config.Registry.Path = val
	}

	if val := os.Getenv("LABD_SCRATCH_DIR"); val != "" {
		config.Launcher.ScratchDir = val
	}
	if val := os.Getenv("LABD_REMOTE_STAGE_DIR"); val != "" {
		config.Launcher.RemoteStageDir = val
	}

	if val := os.Getenv("LABD_DOCKER_ENDPOINT"); val != "" {
		config.Catalog.DockerEndpoint = val
	}

	if val := os.Getenv("LABD_GITHUB_TOKEN"); val != "" {
		config.Scanner.GitHubToken = val
	}

	if val := os.Getenv("LABD_METRICS_ENABLED"); val != "" {
		config.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("LABD_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Monitoring.Metrics.Port = port
		}
	}

	if val := os.Getenv("LABD_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LABD_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}

	if val := os.Getenv("LABD_AUTH_ENABLED"); val != "" {
		config.Security.Authentication.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("LABD_JWT_SECRET_KEY"); val != "" {
		config.Security.Authentication.JWTConfig.SecretKey = val
	}
	if val := os.Getenv("LABD_RATE_LIMIT_ENABLED"); val != "" {
		config.Security.RateLimit.Enabled = strings.ToLower(val) == "true"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.Port)
	}

	if c.Providers.ConfigPath == "" {
		return fmt.Errorf("providers config path must be set")
	}

	validRegistries := []string{"memory", "badger"}
	if !contains(validRegistries, c.Registry.Type) {
		return fmt.Errorf("invalid registry type: %s, must be one of %v", c.Registry.Type, validRegistries)
	}
	if c.Registry.Type == "badger" && c.Registry.Path == "" {
		return fmt.Errorf("registry path must be set for badger registry")
	}

	if c.Launcher.RemoteStageDir == "" || !strings.HasPrefix(c.Launcher.RemoteStageDir, "/") {
		return fmt.Errorf("remote stage dir must be an absolute path: %q", c.Launcher.RemoteStageDir)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("invalid log level: %s, must be one of %v", c.Logging.Level, validLogLevels)
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("invalid log format: %s, must be one of %v", c.Logging.Format, validLogFormats)
	}

	if c.Security.Authentication.Enabled && c.Security.Authentication.JWTConfig.SecretKey == "" {
		return fmt.Errorf("JWT secret key must be set when authentication is enabled")
	}

	return nil
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// SaveToFile saves the configuration to a file
func (c *Config) SaveToFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
