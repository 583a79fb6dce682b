package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration.
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	GitHub struct {
		Token    string `koanf:"token"`
		BaseURL  string `koanf:"base_url"`
		BotLogin string `koanf:"bot_login"`
	} `koanf:"github"`

	AI struct {
		Provider    string  `koanf:"provider"` // openai, gemini, claude, ollama
		APIKey      string  `koanf:"api_key"`
		Model       string  `koanf:"model"`
		BaseURL     string  `koanf:"base_url"`
		Temperature float64 `koanf:"temperature"`
		TimeoutSec  int     `koanf:"timeout_sec"`
	} `koanf:"ai"`

	Review struct {
		MonitoredBranches []string `koanf:"monitored_branches"` // empty means all
		MaxConcurrent     int      `koanf:"max_concurrent"`
		DebounceSec       int      `koanf:"debounce_sec"`
		CeilingWaitSec    int      `koanf:"ceiling_wait_sec"`
		StaleEntryMin     int      `koanf:"stale_entry_min"`
		ResolveWindow     int      `koanf:"resolve_window"`
	} `koanf:"review"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`
}

// DebounceDelay returns the re-analysis debounce delay.
func (c *Config) DebounceDelay() time.Duration {
	return time.Duration(c.Review.DebounceSec) * time.Second
}

// CeilingWait returns how long an attempt waits for a concurrency slot
// before proceeding anyway.
func (c *Config) CeilingWait() time.Duration {
	return time.Duration(c.Review.CeilingWaitSec) * time.Second
}

// StaleEntryAge returns the age past which processing entries are reaped.
func (c *Config) StaleEntryAge() time.Duration {
	return time.Duration(c.Review.StaleEntryMin) * time.Minute
}

// AITimeout returns the per-request timeout for analysis calls.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSec) * time.Second
}

// Load loads the configuration from defaults, an optional TOML file, and
// environment variables with the REVIEWPILOT_ prefix, in that order.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":             8840,
		"github.base_url":         "https://api.github.com",
		"github.bot_login":        "reviewpilot[bot]",
		"ai.provider":             "openai",
		"ai.model":                "gpt-4o-mini",
		"ai.temperature":          0.2,
		"ai.timeout_sec":          120,
		"review.max_concurrent":   4,
		"review.debounce_sec":     90,
		"review.ceiling_wait_sec": 30,
		"review.stale_entry_min":  30,
		"review.resolve_window":   10,
		"log.level":               "info",
	}, "."), nil)

	if configPath != "" {
		// A missing file is fine; environment variables can carry the
		// whole configuration.
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config: %w", err)
			}
		}
	} else {
		for _, path := range []string{"./reviewpilot.toml", "$HOME/.reviewpilot.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("REVIEWPILOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "REVIEWPILOT_")), "_", ".", 1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration can actually drive a review.
func Validate(cfg *Config) error {
	if cfg.GitHub.Token == "" {
		return fmt.Errorf("github token is required")
	}
	if cfg.AI.Provider == "" {
		return fmt.Errorf("ai provider is required")
	}
	if cfg.AI.Provider != "ollama" && cfg.AI.APIKey == "" {
		return fmt.Errorf("ai api_key is required for provider %s", cfg.AI.Provider)
	}
	if cfg.Review.MaxConcurrent < 1 {
		return fmt.Errorf("review max_concurrent must be at least 1")
	}
	return nil
}

// Init writes a sample configuration file.
func Init(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sample := `# ReviewPilot Configuration

[server]
port = 8840

[github]
token = "your-github-token"
bot_login = "reviewpilot[bot]"

[ai]
provider = "openai"
api_key = "your-api-key"
model = "gpt-4o-mini"
temperature = 0.2

[review]
# monitored_branches = ["main", "develop"]
max_concurrent = 4
debounce_sec = 90
`

	return os.WriteFile(configPath, []byte(sample), 0644)
}
