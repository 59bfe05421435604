package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the stream proxy
// server. It covers the HTTP surface, token cache behaviour, upstream
// timeouts, and the catalog store.
type Config struct {
	BaseURL           string        `json:"baseURL"`           // Base URL advertised in synthesized playlists
	Port              int           `json:"port"`              // HTTP listen port
	TokenTTL          time.Duration `json:"tokenTTL"`          // Sliding lifetime of resolution tokens
	ExposeAllVariants bool          `json:"exposeAllVariants"` // Advertise every variant instead of only the best
	ExternalProxyURL  string        `json:"externalProxyURL"`  // Optional external base substituted into playlist URIs
	ScraperURL        string        `json:"scraperURL"`        // Resolver sidecar endpoint
	CatalogDB         string        `json:"catalogDB"`         // SQLite catalog path
	CatalogJSON       string        `json:"catalogJSON"`       // Optional JSON seed imported at startup
	MetadataTimeout   time.Duration `json:"metadataTimeout"`   // Timeout for playlist-sized upstream fetches
	ResolveTimeout    time.Duration `json:"resolveTimeout"`    // Overall deadline for a full page resolution
	PlaylistCacheTTL  time.Duration `json:"playlistCacheTTL"`  // Lifetime of warmed variant playlists
	PlaylistCacheSize int           `json:"playlistCacheSize"` // Max warmed variant playlists kept
	SiteRateLimit     int           `json:"siteRateLimit"`     // Upstream requests per second, per site
	BufferSizeKB      int           `json:"bufferSizeKB"`      // Copy buffer size for segment streaming
	WorkerThreads     int           `json:"workerThreads"`     // Pool size for background tasks
	LogLevel          string        `json:"logLevel"`          // debug, info, warn or error
	ObfuscateUrls     bool          `json:"obfuscateUrls"`     // Obfuscate URLs in logs
	Debug             bool          `json:"debug"`             // Enable debug logging
}

// ConfigFile represents the JSON file structure for unmarshaling
// configuration. Duration fields are strings (e.g. "300s", "5m") parsed
// into time.Duration values.
type ConfigFile struct {
	BaseURL           string `json:"baseURL"`
	Port              int    `json:"port"`
	TokenTTL          string `json:"tokenTTL"`
	ExposeAllVariants *bool  `json:"exposeAllVariants"`
	ExternalProxyURL  string `json:"externalProxyURL"`
	ScraperURL        string `json:"scraperURL"`
	CatalogDB         string `json:"catalogDB"`
	CatalogJSON       string `json:"catalogJSON"`
	MetadataTimeout   string `json:"metadataTimeout"`
	ResolveTimeout    string `json:"resolveTimeout"`
	PlaylistCacheTTL  string `json:"playlistCacheTTL"`
	PlaylistCacheSize int    `json:"playlistCacheSize"`
	SiteRateLimit     int    `json:"siteRateLimit"`
	BufferSizeKB      int    `json:"bufferSizeKB"`
	WorkerThreads     int    `json:"workerThreads"`
	LogLevel          string `json:"logLevel"`
	ObfuscateUrls     bool   `json:"obfuscateUrls"`
	Debug             bool   `json:"debug"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// LoadConfig loads the configuration from /settings/config.json or returns
// the cached instance. Falls back to defaults when the file is missing or
// invalid, then validates every field.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := "/settings/config.json"
	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Base URL: %s", config.BaseURL)
		log.Printf("  Token TTL: %s", config.TokenTTL)
		log.Printf("  Expose all variants: %v", config.ExposeAllVariants)
		log.Printf("  Scraper URL: %s", config.ScraperURL)
		log.Printf("  Catalog DB: %s", config.CatalogDB)
	}

	return config
}

// Reset clears the cached configuration so the next LoadConfig call
// re-reads the file. Used by tests.
func Reset() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration
// strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:           cf.BaseURL,
		Port:              cf.Port,
		ExternalProxyURL:  cf.ExternalProxyURL,
		ScraperURL:        cf.ScraperURL,
		CatalogDB:         cf.CatalogDB,
		CatalogJSON:       cf.CatalogJSON,
		PlaylistCacheSize: cf.PlaylistCacheSize,
		SiteRateLimit:     cf.SiteRateLimit,
		BufferSizeKB:      cf.BufferSizeKB,
		WorkerThreads:     cf.WorkerThreads,
		LogLevel:          cf.LogLevel,
		ObfuscateUrls:     cf.ObfuscateUrls,
		Debug:             cf.Debug,
	}

	// Absent means the default of exposing every variant.
	config.ExposeAllVariants = cf.ExposeAllVariants == nil || *cf.ExposeAllVariants

	var err error
	if config.TokenTTL, err = parseOptionalDuration(cf.TokenTTL); err != nil {
		return nil, fmt.Errorf("invalid tokenTTL: %w", err)
	}
	if config.MetadataTimeout, err = parseOptionalDuration(cf.MetadataTimeout); err != nil {
		return nil, fmt.Errorf("invalid metadataTimeout: %w", err)
	}
	if config.ResolveTimeout, err = parseOptionalDuration(cf.ResolveTimeout); err != nil {
		return nil, fmt.Errorf("invalid resolveTimeout: %w", err)
	}
	if config.PlaylistCacheTTL, err = parseOptionalDuration(cf.PlaylistCacheTTL); err != nil {
		return nil, fmt.Errorf("invalid playlistCacheTTL: %w", err)
	}

	return config, nil
}

// parseOptionalDuration treats an empty string as zero so validation can
// fill in the default later.
func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// getDefaultConfig returns a baseline configuration with sensible defaults
// when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://localhost:8080",
		Port:              8080,
		TokenTTL:          300 * time.Second,
		ExposeAllVariants: true,
		ScraperURL:        "http://localhost:8001",
		CatalogDB:         "/settings/catalog.db",
		MetadataTimeout:   30 * time.Second,
		ResolveTimeout:    60 * time.Second,
		PlaylistCacheTTL:  30 * time.Second,
		PlaylistCacheSize: 256,
		SiteRateLimit:     10,
		BufferSizeKB:      64,
		WorkerThreads:     8,
		LogLevel:          "info",
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = 8080
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 300 * time.Second
	}
	if config.ScraperURL == "" {
		config.ScraperURL = "http://localhost:8001"
	}
	if config.CatalogDB == "" {
		config.CatalogDB = "/settings/catalog.db"
	}
	if config.MetadataTimeout <= 0 {
		config.MetadataTimeout = 30 * time.Second
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 60 * time.Second
	}
	if config.PlaylistCacheTTL <= 0 {
		config.PlaylistCacheTTL = 30 * time.Second
	}
	if config.PlaylistCacheSize <= 0 {
		config.PlaylistCacheSize = 256
	}
	if config.SiteRateLimit <= 0 {
		config.SiteRateLimit = 10
	}
	if config.BufferSizeKB <= 0 {
		config.BufferSizeKB = 64
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.LogLevel == "" {
		if config.Debug {
			config.LogLevel = "debug"
		} else {
			config.LogLevel = "info"
		}
	}
}
