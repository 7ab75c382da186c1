package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	ssc "github.com/bedynamictech/Stupid-Simple-Cache"
	"github.com/bedynamictech/Stupid-Simple-Cache/cache"
	transformer "github.com/bedynamictech/Stupid-Simple-Cache/pkg/response-transformer"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen string `yaml:"listen"`
	// URL of the origin server generating the pages.
	Origin string `yaml:"origin"`
	// Host header and TLS server name for the origin, if it differs from the URL.
	OriginHost string `yaml:"originHost"`

	Cache struct {
		// file, sqlite, leveldb or memory
		Provider string `yaml:"provider"`
		Path     string `yaml:"path"`
	} `yaml:"cache"`

	TTL           string `yaml:"ttl"`
	BrowserMaxAge string `yaml:"browserMaxAge"`
	// One rule per line.
	Whitelist string `yaml:"whitelist"`
	// Toggles left out of the file stay on.
	Modules ssc.Modules `yaml:"modules"`
	// Headers for every non-administrative response.
	ResponseHeaders transformer.Rule `yaml:"responseHeaders"`
	AdminPrefixes   []string         `yaml:"adminPrefixes"`
	Coalesce        bool             `yaml:"coalesce"`
	ClearSchedule   string           `yaml:"clearSchedule"`

	Admin struct {
		Path     string `yaml:"path"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"admin"`

	Log struct {
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"maxSize"`
		MaxBackups int    `yaml:"maxBackups"`
		Compress   bool   `yaml:"compress"`
		Trace      bool   `yaml:"trace"`
	} `yaml:"log"`

	// compiled
	ttl           time.Duration
	browserMaxAge time.Duration
}

// getConfig reads the yaml config file. An empty filename yields the defaults.
func getConfig(filename string) (Config, error) {
	config := Config{Modules: ssc.AllModules()}
	if filename == "" {
		return config, nil
	}
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// validate fills in defaults and compiles the duration fields.
func (c *Config) validate() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	c.Origin = strings.TrimRight(c.Origin, "/")

	switch c.Cache.Provider {
	case "":
		c.Cache.Provider = "file"
	case "file", "sqlite", "leveldb", "memory":
	default:
		return fmt.Errorf("cache.provider: unknown provider %q", c.Cache.Provider)
	}

	var err error
	if c.ttl, err = parseDuration(c.TTL, ssc.DefaultTTL); err != nil {
		return fmt.Errorf("ttl: %w", err)
	}
	if c.browserMaxAge, err = parseDuration(c.BrowserMaxAge, ssc.DefaultBrowserMaxAge); err != nil {
		return fmt.Errorf("browserMaxAge: %w", err)
	}

	if c.Admin.Path == "" {
		c.Admin.Path = "/ssc-admin"
	}
	if !strings.HasPrefix(c.Admin.Path, "/") {
		return fmt.Errorf("admin.path must start with a slash")
	}
	c.Admin.Path = strings.TrimRight(c.Admin.Path, "/")
	if c.Admin.Path == "" {
		return fmt.Errorf("admin.path cannot be the root")
	}
	return nil
}

// prefixes returns the configured admin prefixes plus the admin path itself.
func (c *Config) prefixes() []string {
	return append([]string{c.Admin.Path}, c.AdminPrefixes...)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

// openCache creates the configured cache provider.
func openCache(c Config) (cache.CacheProvider, error) {
	switch c.Cache.Provider {
	case "memory":
		return cache.NewMemCache(), nil
	case "sqlite":
		filename := c.Cache.Path
		if filename == "" {
			filename = "cache.db"
		}
		return cache.NewSQLiteCache(filename)
	case "leveldb":
		dir := c.Cache.Path
		if dir == "" {
			dir = "cache.leveldb"
		}
		return cache.NewLevelDBCache(dir)
	default:
		dir := c.Cache.Path
		if dir == "" {
			dir = "cache"
		}
		return cache.NewFileCache(dir)
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
