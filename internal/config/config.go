package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Status   StatusConfig   `yaml:"status"`
	Checker  CheckerConfig  `yaml:"checker"`
}

type ServerConfig struct {
	Addr          string   `yaml:"addr"`
	NotifyAddr    string   `yaml:"notify_addr"` // UDP nudge listener, empty disables
	Templates     string   `yaml:"templates"`
	WatchInterval Duration `yaml:"watch_interval"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty means ~/.mirrorhub/data.db
}

type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	JWTIssuer string   `yaml:"jwt_issuer"`
	JWTTTL    Duration `yaml:"jwt_ttl"`
}

type StatusConfig struct {
	Cutoff      Duration `yaml:"cutoff"`       // window for status aggregation
	ErrorCutoff Duration `yaml:"error_cutoff"` // window for error summaries on detail pages
	BadDelay    Duration `yaml:"bad_delay"`    // delay beyond which a mirror counts as out of sync
	CacheTTL    Duration `yaml:"cache_ttl"`    // page cache for the status JSON feed
	Tiers       []int    `yaml:"tiers"`
}

type CheckerConfig struct {
	Cron       string   `yaml:"cron"` // cron spec for scheduled runs, empty means run once
	Timeout    Duration `yaml:"timeout"`
	Workers    int      `yaml:"workers"`
	Hostname   string   `yaml:"hostname"`
	SourceIP   string   `yaml:"source_ip"`
	Country    string   `yaml:"country"`
	GeoIPPath  string   `yaml:"geoip_country_path"` // optional GeoLite2 country mmdb
	NotifyAddr string   `yaml:"notify_addr"`        // UDP nudge target, empty disables
}

// Duration wraps time.Duration so YAML values can be written as "30s" or
// "24h". yaml.v3 has no native duration support.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (s StatusConfig) ValidTier(tier int) bool {
	for _, t := range s.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Load reads the YAML config at path, fills defaults for anything not set,
// and applies environment overrides. An empty path means "config.yaml", and
// in that case a missing file is not an error.
func Load(path string) (*Config, error) {
	optional := path == ""
	if optional {
		path = "config.yaml"
	}

	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !(optional && os.IsNotExist(err)) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyEnv(cfg)

	if cfg.Checker.Workers <= 0 {
		cfg.Checker.Workers = 10
	}
	if len(cfg.Status.Tiers) == 0 {
		cfg.Status.Tiers = []int{0, 1, 2, -1}
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			Templates:     "web/templates",
			WatchInterval: Duration(30 * time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			JWTIssuer: "mirrorhub",
			JWTTTL:    Duration(24 * time.Hour),
		},
		Status: StatusConfig{
			Cutoff:      Duration(24 * time.Hour),
			ErrorCutoff: Duration(7 * 24 * time.Hour),
			BadDelay:    Duration(3 * 24 * time.Hour),
			CacheTTL:    Duration(67 * time.Second),
			Tiers:       []int{0, 1, 2, -1},
		},
		Checker: CheckerConfig{
			Timeout: Duration(10 * time.Second),
			Workers: 10,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MIRRORHUB_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MIRRORHUB_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("MIRRORHUB_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}
