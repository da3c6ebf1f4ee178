package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables holding the Airtable secrets
const (
	EnvAirtableAPIKey = "AIRTABLE_API_KEY"
	EnvAirtableBaseID = "AIRTABLE_BASE_ID"
	EnvNgrokAuthToken = "NGROK_AUTHTOKEN"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Site       SiteConfig       `toml:"site"`
	Airtable   AirtableConfig   `toml:"airtable"`
	Cache      CacheConfig      `toml:"cache"`
	Player     PlayerConfig     `toml:"player"`
	Visualizer VisualizerConfig `toml:"visualizer"`
	Logging    LoggingConfig    `toml:"logging"`
	Ngrok      NgrokConfig      `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port           string `toml:"port"`
	Host           string `toml:"host"`
	StaticDir      string `toml:"static_dir"`
	EnableCORS     bool   `toml:"enable_cors"`
	ReadTimeout    int    `toml:"read_timeout_seconds"`
	WriteTimeout   int    `toml:"write_timeout_seconds"`
	IdleTimeout    int    `toml:"idle_timeout_seconds"`
	RequestLogging bool   `toml:"request_logging"`
}

// SiteConfig contains home page presentation settings
type SiteConfig struct {
	Title          string `toml:"title"`
	FallbackPhoto  string `toml:"fallback_photo"`
	TemplatesDir   string `toml:"templates_dir"` // empty uses the embedded templates
	WatchTemplates bool   `toml:"watch_templates"`
}

// AirtableConfig contains the track provider settings. Secrets come from the
// environment and are never written back to the config file.
type AirtableConfig struct {
	APIKey         string `toml:"-"`
	BaseID         string `toml:"-"`
	BaseURL        string `toml:"base_url"`
	LinksTable     string `toml:"links_table"`
	MusicTable     string `toml:"music_table"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// CacheConfig selects the catalog cache backend
type CacheConfig struct {
	Backend       string `toml:"backend"` // memory or redis
	TTLSeconds    int    `toml:"ttl_seconds"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

// PlayerConfig contains house player configuration
type PlayerConfig struct {
	Enabled           bool    `toml:"enabled"`
	Output            string  `toml:"output"`        // speaker or clock
	Order             string  `toml:"order"`         // sequential or shuffle
	InitialTrack      string  `toml:"initial_track"` // first or random
	Volume            float64 `toml:"volume"`
	SampleRate        int     `toml:"sample_rate"`
	MediaCacheEntries int     `toml:"media_cache_entries"`
	FetchTimeout      int     `toml:"fetch_timeout_seconds"`
}

// VisualizerConfig contains analyser and canvas settings
type VisualizerConfig struct {
	FFTSize   int     `toml:"fft_size"`
	Smoothing float64 `toml:"smoothing"`
	FPS       int     `toml:"fps"`
	Width     int     `toml:"width"`
	Height    int     `toml:"height"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "0.0.0.0",
			StaticDir:      "./static",
			EnableCORS:     false,
			ReadTimeout:    30,
			WriteTimeout:   30,
			IdleTimeout:    120,
			RequestLogging: true,
		},
		Site: SiteConfig{
			Title:         "Oliver Rau Owen Chida Family Tree",
			FallbackPhoto: "/static/fam.jpg",
		},
		Airtable: AirtableConfig{
			BaseURL:        "https://api.airtable.com/v0",
			LinksTable:     "Links",
			MusicTable:     "Music",
			TimeoutSeconds: 15,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTLSeconds: 3600,
			RedisAddr:  "127.0.0.1:6379",
			KeyPrefix:  "familysite:",
		},
		Player: PlayerConfig{
			Enabled:           true,
			Output:            "speaker",
			Order:             "sequential",
			InitialTrack:      "first",
			Volume:            1.0,
			SampleRate:        44100,
			MediaCacheEntries: 8,
			FetchTimeout:      60,
		},
		Visualizer: VisualizerConfig{
			FFTSize:   256,
			Smoothing: 0.8,
			FPS:       60,
			Width:     600,
			Height:    50,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Ngrok: NgrokConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies secrets from
// the environment (and a .env file when present). Missing secrets fail here
// rather than on the first provider call.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile loads variables from path if it exists. Existing environment
// variables are not overridden.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv copies secrets from the environment into the configuration
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAirtableAPIKey); v != "" {
		c.Airtable.APIKey = v
	}
	if v := os.Getenv(EnvAirtableBaseID); v != "" {
		c.Airtable.BaseID = v
	}
	if c.Ngrok.AuthToken == "" {
		c.Ngrok.AuthToken = os.Getenv(EnvNgrokAuthToken)
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Family site configuration
# Airtable secrets are read from AIRTABLE_API_KEY and AIRTABLE_BASE_ID
# (environment or .env file) and are not stored here.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	if c.Airtable.APIKey == "" {
		return fmt.Errorf("%s is not set", EnvAirtableAPIKey)
	}
	if c.Airtable.BaseID == "" {
		return fmt.Errorf("%s is not set", EnvAirtableBaseID)
	}
	if c.Airtable.BaseURL == "" {
		return fmt.Errorf("airtable base url cannot be empty")
	}
	if c.Airtable.LinksTable == "" || c.Airtable.MusicTable == "" {
		return fmt.Errorf("airtable table names cannot be empty")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	validOutputs := map[string]bool{"speaker": true, "clock": true}
	if !validOutputs[c.Player.Output] {
		return fmt.Errorf("invalid player output: %s (must be speaker or clock)", c.Player.Output)
	}
	validOrders := map[string]bool{"sequential": true, "shuffle": true}
	if !validOrders[c.Player.Order] {
		return fmt.Errorf("invalid player order: %s (must be sequential or shuffle)", c.Player.Order)
	}
	validInitial := map[string]bool{"first": true, "random": true}
	if !validInitial[c.Player.InitialTrack] {
		return fmt.Errorf("invalid initial track policy: %s (must be first or random)", c.Player.InitialTrack)
	}
	if c.Player.Volume < 0 || c.Player.Volume > 1 {
		return fmt.Errorf("player volume must be between 0 and 1")
	}
	if c.Player.SampleRate <= 0 {
		return fmt.Errorf("player sample rate must be positive")
	}
	if c.Player.MediaCacheEntries < 0 {
		return fmt.Errorf("player media cache entries cannot be negative")
	}

	if !isPowerOfTwo(c.Visualizer.FFTSize) || c.Visualizer.FFTSize < 32 || c.Visualizer.FFTSize > 32768 {
		return fmt.Errorf("visualizer fft size must be a power of two between 32 and 32768")
	}
	if c.Visualizer.Smoothing < 0 || c.Visualizer.Smoothing >= 1 {
		return fmt.Errorf("visualizer smoothing must be in [0, 1)")
	}
	if c.Visualizer.FPS <= 0 {
		return fmt.Errorf("visualizer fps must be positive")
	}
	if c.Visualizer.Width <= 0 || c.Visualizer.Height <= 0 {
		return fmt.Errorf("visualizer canvas size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Ngrok.Enabled && c.Ngrok.AuthToken == "" {
		return fmt.Errorf("ngrok is enabled but %s is not set", EnvNgrokAuthToken)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
