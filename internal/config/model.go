package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"dario.cat/mergo"
)

// Config is the root configuration structure loaded from config.yaml.
type Config struct {
	System   SystemConfig    `yaml:"system"`
	Telegram TelegramConfig  `yaml:"telegram"`
	API      APIConfig       `yaml:"api"`
	Monitor  MonitorConfig   `yaml:"monitor"`
	Stealth  StealthConfig   `yaml:"stealth"`
	Capture  CaptureConfig   `yaml:"capture"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type SystemConfig struct {
	BindAddress string `yaml:"bind_address"`
	LogLevel    string `yaml:"log_level"`
	Timezone    string `yaml:"timezone,omitempty"`
}

type TelegramConfig struct {
	BotToken    string `yaml:"bot_token"`
	SendRate    int    `yaml:"send_rate"`    // messages per second across all chats
	SendTimeout int    `yaml:"send_timeout"` // seconds
}

type APIConfig struct {
	Username         string `yaml:"username"`
	PasswordHash     string `yaml:"password_hash"`
	MaxLoginAttempts int    `yaml:"max_login_attempts"`
	LockoutDuration  int    `yaml:"lockout_duration"`
}

// MonitorConfig controls the polling cadence and the notification policy thresholds.
type MonitorConfig struct {
	DefaultURL           string   `yaml:"default_url"`
	Interval             int      `yaml:"interval"`
	ProbeTimeout         int      `yaml:"probe_timeout"`
	MaxTasks             int      `yaml:"max_tasks"`
	HistoryPoints        int      `yaml:"history_points"`
	UnavailablePhrases   []string `yaml:"unavailable_phrases"`
	HeartbeatEvery       int      `yaml:"heartbeat_every"`
	EvidenceEvery        int      `yaml:"evidence_every"`
	EvidenceEveryMinutes int      `yaml:"evidence_every_minutes"`
	EvidenceStaleAfter   int      `yaml:"evidence_stale_after"`
}

// StealthConfig shapes outgoing page requests so they look like a regular browser.
type StealthConfig struct {
	UserAgents     []string          `yaml:"user_agents"`
	DelayMin       int               `yaml:"delay_min"` // milliseconds
	DelayMax       int               `yaml:"delay_max"` // milliseconds
	RequestTimeout int               `yaml:"request_timeout"`
	Headers        map[string]string `yaml:"headers"`
	Referrers      map[string]string `yaml:"referrers"`
	DefaultReferer string            `yaml:"default_referer"`
}

type CaptureConfig struct {
	Enabled         *bool  `yaml:"enabled,omitempty"`
	Headless        *bool  `yaml:"headless,omitempty"`
	ExecPath        string `yaml:"exec_path,omitempty"`
	UserAgent       string `yaml:"user_agent"`
	ViewportWidth   int    `yaml:"viewport_width"`
	ViewportHeight  int    `yaml:"viewport_height"`
	Timeout         int    `yaml:"timeout"`
	ConsentSelector string `yaml:"consent_selector"`
	AcceptLanguage  string `yaml:"accept_language"`
	SettleMin       int    `yaml:"settle_min"` // milliseconds
	SettleMax       int    `yaml:"settle_max"` // milliseconds
	OutputDir       string `yaml:"output_dir,omitempty"`
}

type WebhookConfig struct {
	URL    string `yaml:"url"`
	Method string `yaml:"method,omitempty"`
	Remark string `yaml:"remark,omitempty"`
}

// IsEnabled returns whether screenshots are captured (defaults to true).
func (c *CaptureConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsHeadless returns whether the browser runs without a window (defaults to true).
func (c *CaptureConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

func (m MonitorConfig) IntervalDuration() time.Duration {
	return time.Duration(m.Interval) * time.Second
}

func (m MonitorConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(m.ProbeTimeout) * time.Second
}

func (m MonitorConfig) StaleAfterDuration() time.Duration {
	return time.Duration(m.EvidenceStaleAfter) * time.Second
}

func (c CaptureConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (t TelegramConfig) SendTimeoutDuration() time.Duration {
	return time.Duration(t.SendTimeout) * time.Second
}

func boolPtr(b bool) *bool { return &b }

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		System: SystemConfig{
			BindAddress: ":8080",
			LogLevel:    "info",
			Timezone:    detectTimezone(),
		},
		Telegram: TelegramConfig{
			SendRate:    25,
			SendTimeout: 15,
		},
		API: APIConfig{
			Username:         "admin",
			MaxLoginAttempts: 5,
			LockoutDuration:  900,
		},
		Monitor: MonitorConfig{
			DefaultURL:    "https://amzn.eu/d/ioGRpBq",
			Interval:      120,
			ProbeTimeout:  30,
			MaxTasks:      100,
			HistoryPoints: 720,
			UnavailablePhrases: []string{
				"Actuellement indisponible.",
				"Currently Unavailable.",
				"Currently unavailable.",
			},
			HeartbeatEvery:       5,
			EvidenceEvery:        15,
			EvidenceEveryMinutes: 60,
			EvidenceStaleAfter:   2 * 60 * 60,
		},
		Stealth: StealthConfig{
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:130.0) Gecko/20100101 Firefox/130.0",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:130.0) Gecko/20100101 Firefox/130.0",
			},
			DelayMin:       500,
			DelayMax:       2000,
			RequestTimeout: 25,
			Headers: map[string]string{
				"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
				"Accept-Language":           "en-US,en;q=0.9",
				"DNT":                       "1",
				"Upgrade-Insecure-Requests": "1",
				"Sec-Fetch-Dest":            "document",
				"Sec-Fetch-Mode":            "navigate",
				"Sec-Fetch-Site":            "cross-site",
				"Sec-Fetch-User":            "?1",
				"Cache-Control":             "max-age=0",
				"Pragma":                    "no-cache",
			},
			Referrers: map[string]string{
				"amazon":  "https://www.google.com/search?q=amazon+products",
				"amzn":    "https://www.google.com/search?q=amazon+products",
				"youtube": "https://www.google.com/search?q=youtube+videos",
			},
			DefaultReferer: "https://www.google.com/",
		},
		Capture: CaptureConfig{
			Enabled:         boolPtr(true),
			Headless:        boolPtr(true),
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
			ViewportWidth:   1920,
			ViewportHeight:  1080,
			Timeout:         60,
			ConsentSelector: "#sp-cc-rejectall-link",
			AcceptLanguage:  "es-ES,fr-FR;q=0.9,en-US;q=0.8",
			SettleMin:       1000,
			SettleMax:       3000,
		},
		Webhooks: []WebhookConfig{},
	}
}

// ApplyDefaults fills zero-value fields with defaults.
func (c *Config) ApplyDefaults() error {
	if err := mergo.Merge(c, DefaultConfig(), mergo.WithoutDereference); err != nil {
		return fmt.Errorf("merge defaults: %w", err)
	}
	for i := range c.Webhooks {
		if c.Webhooks[i].Method == "" {
			c.Webhooks[i].Method = "POST"
		}
	}
	return nil
}

// detectTimezone returns the system's IANA timezone name, falling back to "UTC".
func detectTimezone() string {
	name := time.Now().Location().String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	var errs []string

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.System.LogLevel] {
		errs = append(errs, fmt.Sprintf("system.log_level must be one of: debug, info, warn, error (got %q)", c.System.LogLevel))
	}
	if c.System.Timezone != "" {
		if _, err := time.LoadLocation(c.System.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("system.timezone %q is not a valid IANA name", c.System.Timezone))
		}
	}

	m := c.Monitor
	if m.Interval < 5 {
		errs = append(errs, "monitor.interval must be >= 5 seconds")
	}
	if m.ProbeTimeout <= 0 {
		errs = append(errs, "monitor.probe_timeout must be > 0")
	} else if m.ProbeTimeout >= m.Interval {
		errs = append(errs, fmt.Sprintf("monitor.probe_timeout (%d) must be < interval (%d)", m.ProbeTimeout, m.Interval))
	}
	if !IsHTTPURL(m.DefaultURL) {
		errs = append(errs, "monitor.default_url must be a valid http(s) URL")
	}
	if len(m.UnavailablePhrases) == 0 {
		errs = append(errs, "monitor.unavailable_phrases must not be empty")
	}
	for i, p := range m.UnavailablePhrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Sprintf("monitor.unavailable_phrases[%d] is blank", i))
		}
	}

	if c.Stealth.DelayMin > c.Stealth.DelayMax {
		errs = append(errs, fmt.Sprintf("stealth.delay_min (%d) must be <= delay_max (%d)", c.Stealth.DelayMin, c.Stealth.DelayMax))
	}
	if c.Stealth.RequestTimeout > m.ProbeTimeout {
		errs = append(errs, fmt.Sprintf("stealth.request_timeout (%d) must be <= monitor.probe_timeout (%d)", c.Stealth.RequestTimeout, m.ProbeTimeout))
	}
	if c.Capture.SettleMin > c.Capture.SettleMax {
		errs = append(errs, fmt.Sprintf("capture.settle_min (%d) must be <= settle_max (%d)", c.Capture.SettleMin, c.Capture.SettleMax))
	}

	for i, w := range c.Webhooks {
		prefix := fmt.Sprintf("webhooks[%d]", i)
		if !IsHTTPURL(w.URL) {
			errs = append(errs, prefix+".url must be a valid http(s) URL")
		}
	}

	if c.API.PasswordHash != "" && c.API.Username == "" {
		errs = append(errs, "api.username is required when api.password_hash is set")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

// IsHTTPURL reports whether s parses as an absolute http or https URL.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
