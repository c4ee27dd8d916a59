// Package config loads settings from an optional YAML file and the
// environment. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// Defaults.
const (
	DefaultStateURI       = "ledger_sync_state.json"
	DefaultTimezone       = "Pacific/Auckland"
	DefaultCurrency       = "NZD"
	DefaultPort           = "5000"
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultAdvisorTimeout = 5 * time.Second
	DefaultMatchThreshold = 50
	DefaultAkahuBaseURL   = "https://api.akahu.io/v1"
	DefaultYNABBaseURL    = "https://api.ynab.com/v1"
	DefaultGeminiModel    = "gemini-2.5-flash"
)

// AkahuConfig holds source provider credentials.
type AkahuConfig struct {
	UserToken string `yaml:"user_token"`
	AppToken  string `yaml:"app_token"`
	PublicKey string `yaml:"public_key"`
	BaseURL   string `yaml:"base_url"`
}

// YNABConfig holds YNAB credentials. The backend is enabled when both the
// token and the budget id are set.
type YNABConfig struct {
	Token    string `yaml:"token"`
	BudgetID string `yaml:"budget_id"`
	BaseURL  string `yaml:"base_url"`
}

// ActualConfig points at an actual-http-api server.
type ActualConfig struct {
	ServerURL     string `yaml:"server_url"`
	APIKey        string `yaml:"api_key"`
	SyncID        string `yaml:"sync_id"`
	EncryptionKey string `yaml:"encryption_key"`
}

// GeminiConfig enables the advisory matcher when APIKey is set.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// BigQueryConfig enables the audit trail when Project is set.
type BigQueryConfig struct {
	Project         string `yaml:"project"`
	Dataset         string `yaml:"dataset"`
	CredentialsFile string `yaml:"credentials_file"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	Port string `yaml:"port"`
	// SyncToken protects /sync and /jobs when set.
	SyncToken string `yaml:"sync_token"`
}

// Config is the full process configuration.
type Config struct {
	Akahu    AkahuConfig    `yaml:"akahu"`
	YNAB     YNABConfig     `yaml:"ynab"`
	Actual   ActualConfig   `yaml:"actual"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	BigQuery BigQueryConfig `yaml:"bigquery"`
	Server   ServerConfig   `yaml:"server"`

	StateURI         string        `yaml:"state_uri"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	Timezone         string        `yaml:"timezone"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	AdvisorTimeout   time.Duration `yaml:"advisor_timeout"`
	DefaultSyncStart time.Time     `yaml:"default_sync_start"`
	Currency         string        `yaml:"currency"`
	MatchThreshold   float64       `yaml:"match_threshold"`
}

// Default returns a configuration with every default filled in and no
// credentials.
func Default() Config {
	return Config{
		Akahu:            AkahuConfig{BaseURL: DefaultAkahuBaseURL},
		YNAB:             YNABConfig{BaseURL: DefaultYNABBaseURL},
		Gemini:           GeminiConfig{Model: DefaultGeminiModel},
		Server:           ServerConfig{Port: DefaultPort},
		StateURI:         DefaultStateURI,
		Timezone:         DefaultTimezone,
		HTTPTimeout:      DefaultHTTPTimeout,
		AdvisorTimeout:   DefaultAdvisorTimeout,
		DefaultSyncStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Currency:         DefaultCurrency,
		MatchThreshold:   DefaultMatchThreshold,
	}
}

// Load reads path (skipped when empty) over the defaults and then applies
// the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &domain.ConfigurationError{Reason: fmt.Sprintf("reading %s: %v", path, err)}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &domain.ConfigurationError{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from lookup, which has the os.LookupEnv shape.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"AKAHU_USER_TOKEN":               &c.Akahu.UserToken,
		"AKAHU_APP_TOKEN":                &c.Akahu.AppToken,
		"AKAHU_PUBLIC_KEY":               &c.Akahu.PublicKey,
		"AKAHU_BASE_URL":                 &c.Akahu.BaseURL,
		"YNAB_BEARER_TOKEN":              &c.YNAB.Token,
		"YNAB_BUDGET_ID":                 &c.YNAB.BudgetID,
		"YNAB_BASE_URL":                  &c.YNAB.BaseURL,
		"ACTUAL_SERVER_URL":              &c.Actual.ServerURL,
		"ACTUAL_API_KEY":                 &c.Actual.APIKey,
		"ACTUAL_SYNC_ID":                 &c.Actual.SyncID,
		"ACTUAL_ENCRYPTION_KEY":          &c.Actual.EncryptionKey,
		"GEMINI_API_KEY":                 &c.Gemini.APIKey,
		"GEMINI_MODEL":                   &c.Gemini.Model,
		"BIGQUERY_PROJECT":               &c.BigQuery.Project,
		"BIGQUERY_DATASET":               &c.BigQuery.Dataset,
		"GOOGLE_APPLICATION_CREDENTIALS": &c.BigQuery.CredentialsFile,
		"STATE_URI":                      &c.StateURI,
		"SYNC_TIMEZONE":                  &c.Timezone,
		"CURRENCY":                       &c.Currency,
		"SYNC_TOKEN":                     &c.Server.SyncToken,
		"PORT":                           &c.Server.Port,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"SYNC_INTERVAL":   &c.SyncInterval,
		"HTTP_TIMEOUT":    &c.HTTPTimeout,
		"ADVISOR_TIMEOUT": &c.AdvisorTimeout,
	}
	var bad []string
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s=%q", key, v))
			continue
		}
		*dst = d
	}

	if v, ok := lookup("DEFAULT_SYNC_START"); ok && v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			bad = append(bad, fmt.Sprintf("DEFAULT_SYNC_START=%q", v))
		} else {
			c.DefaultSyncStart = t
		}
	}
	if v, ok := lookup("MATCH_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			bad = append(bad, fmt.Sprintf("MATCH_THRESHOLD=%q", v))
		} else {
			c.MatchThreshold = f
		}
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return &domain.ConfigurationError{Reason: "invalid values: " + strings.Join(bad, ", ")}
	}
	return nil
}

// YNABEnabled reports whether YNAB credentials are present.
func (c Config) YNABEnabled() bool {
	return c.YNAB.Token != "" || c.YNAB.BudgetID != ""
}

// ActualEnabled reports whether an Actual server is configured.
func (c Config) ActualEnabled() bool {
	return c.Actual.ServerURL != "" || c.Actual.APIKey != "" || c.Actual.SyncID != ""
}

// Backends lists the configured backends in display order.
func (c Config) Backends() []domain.Backend {
	var out []domain.Backend
	if c.YNABEnabled() {
		out = append(out, domain.BackendYNAB)
	}
	if c.ActualEnabled() {
		out = append(out, domain.BackendActual)
	}
	return out
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	name := c.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("timezone %q: %v", name, err)}
	}
	return loc, nil
}

// Validate checks that everything the process needs is present. The
// returned ConfigurationError names every missing key at once.
func (c Config) Validate(needWebhook bool) error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	require("AKAHU_USER_TOKEN", c.Akahu.UserToken)
	require("AKAHU_APP_TOKEN", c.Akahu.AppToken)
	if needWebhook {
		require("AKAHU_PUBLIC_KEY", c.Akahu.PublicKey)
	}

	switch {
	case !c.YNABEnabled() && !c.ActualEnabled():
		missing = append(missing, "YNAB_BEARER_TOKEN or ACTUAL_SERVER_URL")
	default:
		if c.YNABEnabled() {
			require("YNAB_BEARER_TOKEN", c.YNAB.Token)
			require("YNAB_BUDGET_ID", c.YNAB.BudgetID)
		}
		if c.ActualEnabled() {
			require("ACTUAL_SERVER_URL", c.Actual.ServerURL)
			require("ACTUAL_API_KEY", c.Actual.APIKey)
			require("ACTUAL_SYNC_ID", c.Actual.SyncID)
		}
	}
	require("STATE_URI", c.StateURI)

	if len(missing) > 0 {
		return &domain.ConfigurationError{Missing: missing}
	}

	var problems []string
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "HTTP_TIMEOUT must be positive")
	}
	if c.SyncInterval < 0 {
		problems = append(problems, "SYNC_INTERVAL must not be negative")
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 100 {
		problems = append(problems, "MATCH_THRESHOLD must be between 0 and 100")
	}
	if _, err := c.Location(); err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			problems = append(problems, cfgErr.Reason)
		}
	}
	if len(problems) > 0 {
		return &domain.ConfigurationError{Reason: strings.Join(problems, "; ")}
	}
	return nil
}
