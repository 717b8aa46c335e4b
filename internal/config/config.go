// Package config loads service configuration from an optional YAML file
// with environment overrides for the RMM credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

const (
	defaultPollIntervalMS    = 2000
	defaultTimeoutNormalMS   = 60000
	defaultTimeoutCriticalMS = 300000
)

// Config holds everything the server reads at startup. Every field is
// optional; an empty Config runs in demo mode on embedded fixtures.
type Config struct {
	RMM    RMM    `yaml:"rmm"`
	Poll   Poll   `yaml:"poll"`
	Audit  Audit  `yaml:"audit"`
	Notify Notify `yaml:"notify"`

	// Registry file paths. Empty selects the embedded demo fixtures.
	Devices string `yaml:"devices"`
	Actions string `yaml:"actions"`
	Roles   string `yaml:"roles"`
}

// RMM holds the provider endpoint and OAuth2 client credentials.
type RMM struct {
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Poll holds the status-tracking cadence and deadlines in milliseconds.
type Poll struct {
	IntervalMS        int `yaml:"interval_ms"`
	TimeoutNormalMS   int `yaml:"timeout_ms_normal"`
	TimeoutCriticalMS int `yaml:"timeout_ms_critical"`
}

// Audit names the git repository (URL or local path) for the audit trail.
type Audit struct {
	Repo string `yaml:"repo"`
}

// Notify holds the outbound webhook settings. An empty URL disables
// notifications.
type Notify struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// Load reads the YAML file at path, applies environment overrides and
// fills defaults. An empty path skips the file and uses env plus defaults.
// RMM_BASE_URL, RMM_CLIENT_ID and RMM_CLIENT_SECRET always win over file
// values so secrets can stay out of config files.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RMM_BASE_URL"); v != "" {
		c.RMM.BaseURL = v
	}
	if v := os.Getenv("RMM_CLIENT_ID"); v != "" {
		c.RMM.ClientID = v
	}
	if v := os.Getenv("RMM_CLIENT_SECRET"); v != "" {
		c.RMM.ClientSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Poll.IntervalMS <= 0 {
		c.Poll.IntervalMS = defaultPollIntervalMS
	}
	if c.Poll.TimeoutNormalMS <= 0 {
		c.Poll.TimeoutNormalMS = defaultTimeoutNormalMS
	}
	if c.Poll.TimeoutCriticalMS <= 0 {
		c.Poll.TimeoutCriticalMS = defaultTimeoutCriticalMS
	}
}

// Mode selects production iff all three RMM settings are present. Partial
// credentials are a misconfiguration and fall back to demo; MissingRMM
// names what to fix.
func (c *Config) Mode() clubos.Mode {
	if c.RMM.BaseURL != "" && c.RMM.ClientID != "" && c.RMM.ClientSecret != "" {
		return clubos.ModeProduction
	}
	return clubos.ModeDemo
}

// MissingRMM lists the unset RMM settings. Empty means fully configured,
// all three means plain demo mode; anything in between is worth a warning.
func (c *Config) MissingRMM() []string {
	var missing []string
	if c.RMM.BaseURL == "" {
		missing = append(missing, "rmm.base_url")
	}
	if c.RMM.ClientID == "" {
		missing = append(missing, "rmm.client_id")
	}
	if c.RMM.ClientSecret == "" {
		missing = append(missing, "rmm.client_secret")
	}
	return missing
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}

// TimeoutNormal returns the deadline for normal actions.
func (c *Config) TimeoutNormal() time.Duration {
	return time.Duration(c.Poll.TimeoutNormalMS) * time.Millisecond
}

// TimeoutCritical returns the deadline for critical actions.
func (c *Config) TimeoutCritical() time.Duration {
	return time.Duration(c.Poll.TimeoutCriticalMS) * time.Millisecond
}
