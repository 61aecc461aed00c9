package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr           string
	DBPath         string
	HashSecret     string
	RequireCaptcha bool
	CaptchaTTL     time.Duration
	PageSize       int
	MaxDepth       int
	CacheTTL       time.Duration
	Fanout         Fanout
	RateLimits     RateLimits
}

type Fanout struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
}

type RateLimits struct {
	CommentPerMinute int
}

// fileConfig is the YAML shape; durations are strings ("5m", "250ms").
type fileConfig struct {
	Addr           string `yaml:"addr"`
	DBPath         string `yaml:"db_path"`
	HashSecret     string `yaml:"hash_secret"`
	RequireCaptcha *bool  `yaml:"require_captcha"`
	CaptchaTTL     string `yaml:"captcha_ttl"`
	PageSize       int    `yaml:"page_size"`
	MaxDepth       int    `yaml:"max_depth"`
	CacheTTL       string `yaml:"cache_ttl"`
	Fanout         struct {
		Workers     int    `yaml:"workers"`
		QueueSize   int    `yaml:"queue_size"`
		MaxAttempts int    `yaml:"max_attempts"`
		Backoff     string `yaml:"backoff"`
	} `yaml:"fanout"`
	RateLimits struct {
		CommentPerMinute int `yaml:"comment_per_minute"`
	} `yaml:"rate_limits"`
}

// Load builds the configuration from defaults, then the optional YAML file
// named by QUIBBLE_CONFIG, then environment overrides.
func Load() Config {
	cfg := defaults()

	if path := os.Getenv("QUIBBLE_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config: cannot read %s: %v (using defaults)", path, err)
		} else {
			var fc fileConfig
			if err := yaml.Unmarshal(raw, &fc); err != nil {
				log.Printf("config: cannot parse %s: %v (using defaults)", path, err)
			} else {
				cfg = merge(cfg, fc)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func defaults() Config {
	return Config{
		Addr:           ":8080",
		DBPath:         "quibble.db",
		HashSecret:     "dev-hash-secret",
		RequireCaptcha: true,
		CaptchaTTL:     5 * time.Minute,
		PageSize:       25,
		MaxDepth:       5,
		CacheTTL:       time.Minute,
		Fanout: Fanout{
			Workers:     2,
			QueueSize:   256,
			MaxAttempts: 3,
			Backoff:     250 * time.Millisecond,
		},
		RateLimits: RateLimits{CommentPerMinute: 30},
	}
}

func merge(base Config, fc fileConfig) Config {
	if fc.Addr != "" {
		base.Addr = fc.Addr
	}
	if fc.DBPath != "" {
		base.DBPath = fc.DBPath
	}
	if fc.HashSecret != "" {
		base.HashSecret = fc.HashSecret
	}
	if fc.RequireCaptcha != nil {
		base.RequireCaptcha = *fc.RequireCaptcha
	}
	if d, ok := parseDuration(fc.CaptchaTTL); ok {
		base.CaptchaTTL = d
	}
	if fc.PageSize > 0 {
		base.PageSize = fc.PageSize
	}
	if fc.MaxDepth > 0 {
		base.MaxDepth = fc.MaxDepth
	}
	if d, ok := parseDuration(fc.CacheTTL); ok {
		base.CacheTTL = d
	}
	if fc.Fanout.Workers > 0 {
		base.Fanout.Workers = fc.Fanout.Workers
	}
	if fc.Fanout.QueueSize > 0 {
		base.Fanout.QueueSize = fc.Fanout.QueueSize
	}
	if fc.Fanout.MaxAttempts > 0 {
		base.Fanout.MaxAttempts = fc.Fanout.MaxAttempts
	}
	if d, ok := parseDuration(fc.Fanout.Backoff); ok {
		base.Fanout.Backoff = d
	}
	if fc.RateLimits.CommentPerMinute > 0 {
		base.RateLimits.CommentPerMinute = fc.RateLimits.CommentPerMinute
	}
	return base
}

func (c *Config) applyEnvOverrides() {
	c.Addr = envString("QUIBBLE_ADDR", c.Addr)
	if port := os.Getenv("PORT"); port != "" && os.Getenv("QUIBBLE_ADDR") == "" {
		c.Addr = ":" + port
	}
	c.DBPath = envString("QUIBBLE_DB", c.DBPath)
	c.HashSecret = envString("QUIBBLE_HASH_SECRET", c.HashSecret)
	c.RequireCaptcha = envBool("QUIBBLE_REQUIRE_CAPTCHA", c.RequireCaptcha)
	c.CaptchaTTL = envDuration("QUIBBLE_CAPTCHA_TTL", c.CaptchaTTL)
	c.PageSize = envInt("QUIBBLE_PAGE_SIZE", c.PageSize)
	c.MaxDepth = envInt("QUIBBLE_MAX_DEPTH", c.MaxDepth)
	c.CacheTTL = envDuration("QUIBBLE_CACHE_TTL", c.CacheTTL)
	c.Fanout.Workers = envInt("QUIBBLE_FANOUT_WORKERS", c.Fanout.Workers)
	c.Fanout.QueueSize = envInt("QUIBBLE_FANOUT_QUEUE", c.Fanout.QueueSize)
	c.Fanout.MaxAttempts = envInt("QUIBBLE_FANOUT_ATTEMPTS", c.Fanout.MaxAttempts)
	c.Fanout.Backoff = envDuration("QUIBBLE_FANOUT_BACKOFF", c.Fanout.Backoff)
	c.RateLimits.CommentPerMinute = envInt("QUIBBLE_RL_COMMENT_PER_MIN", c.RateLimits.CommentPerMinute)
}

func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("config: invalid duration %q, ignoring", s)
		return 0, false
	}
	return d, true
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
