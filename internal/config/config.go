// Package config loads and validates the pairsync configuration file.
//
// The file is YAML (default name pairsync.yaml, searched in the working
// directory). Every scalar setting can be overridden through the
// environment with the PAIRSYNC_ prefix, e.g. PAIRSYNC_CRM_TOKEN, so
// secrets can stay out of the file entirely.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid reports bad or missing settings. It is fatal before any
// sync starts; nothing remote is contacted with a broken config.
var ErrInvalid = errors.New("invalid configuration")

// SyncFields lists the valid entries for sync.fields, which is also the
// default selection.
var SyncFields = []string{"career", "address", "phone", "email", "labels", "notes"}

// Labels is a pair of label name filters. Exclusion wins over inclusion.
type Labels struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// ABook configures the address book connector.
type ABook struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Labels  Labels `yaml:"labels"`
}

// CRM configures the CRM connector. BaseURL includes the API prefix.
type CRM struct {
	BaseURL         string `yaml:"base_url"`
	Token           string `yaml:"token"`
	Labels          Labels `yaml:"labels"`
	CreateReminders bool   `yaml:"create_reminders"`
}

// Sync configures the engine itself.
type Sync struct {
	// Database is the pairing database DSN: a SQLite path, a file: URI,
	// or a mysql:// DSN.
	Database string `yaml:"database"`

	// DeleteOnSync deletes the CRM counterpart of a deleted address book
	// contact instead of only dropping the pairing.
	DeleteOnSync bool `yaml:"delete_on_sync"`

	// StreetReversal rewrites "13 Auenweg" to "Auenweg 13" on upload.
	StreetReversal bool `yaml:"street_reversal"`

	// Fields selects the detail groups to sync. Empty means all.
	Fields []string `yaml:"fields"`
}

// Log configures the log file the CLI writes next to its console output.
type Log struct {
	File string `yaml:"file"`
}

// Telemetry configures the OpenTelemetry export.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is an OTLP HTTP endpoint; empty means stdout exporters.
	Endpoint string `yaml:"endpoint"`
}

// Config is the full pairsync configuration.
type Config struct {
	ABook     ABook     `yaml:"abook"`
	CRM       CRM       `yaml:"crm"`
	Sync      Sync      `yaml:"sync"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Load reads the configuration from path, or from ./pairsync.yaml when
// path is empty, applies environment overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pairsync")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("PAIRSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %v: %w", err, ErrInvalid)
	}

	// The nested structure parses with yaml.v3; viper then supplies the
	// per-scalar environment overrides on top.
	data, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %v: %w", v.ConfigFileUsed(), err, ErrInvalid)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %v: %w", v.ConfigFileUsed(), err, ErrInvalid)
	}
	cfg.applyOverrides(v)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyOverrides pulls every scalar back through viper, so a set
// environment variable wins over the file value.
func (c *Config) applyOverrides(v *viper.Viper) {
	override := func(key string, target *string) {
		if s := v.GetString(key); s != "" {
			*target = s
		}
	}
	override("abook.base_url", &c.ABook.BaseURL)
	override("abook.token", &c.ABook.Token)
	override("crm.base_url", &c.CRM.BaseURL)
	override("crm.token", &c.CRM.Token)
	override("sync.database", &c.Sync.Database)
	override("log.file", &c.Log.File)
	override("telemetry.endpoint", &c.Telemetry.Endpoint)

	// Booleans cannot use the non-empty check: false is a valid override.
	overrideBool := func(key string, target *bool) {
		if v.IsSet(key) {
			*target = v.GetBool(key)
		}
	}
	overrideBool("crm.create_reminders", &c.CRM.CreateReminders)
	overrideBool("sync.delete_on_sync", &c.Sync.DeleteOnSync)
	overrideBool("sync.street_reversal", &c.Sync.StreetReversal)
	overrideBool("telemetry.enabled", &c.Telemetry.Enabled)
}

func (c *Config) applyDefaults() {
	if c.Sync.Database == "" {
		c.Sync.Database = "pairsync.db"
	}
	if c.Log.File == "" {
		c.Log.File = "pairsync.log"
	}
	if len(c.Sync.Fields) == 0 {
		c.Sync.Fields = append([]string(nil), SyncFields...)
	}
}

// Validate checks the settings a sync cannot run without. All failures
// wrap ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	if c.ABook.BaseURL == "" {
		problems = append(problems, "abook.base_url is required")
	}
	if c.ABook.Token == "" {
		problems = append(problems, "abook.token is required")
	}
	if c.CRM.BaseURL == "" {
		problems = append(problems, "crm.base_url is required")
	}
	if c.CRM.Token == "" {
		problems = append(problems, "crm.token is required")
	}
	for _, f := range c.Sync.Fields {
		if !validField(f) {
			problems = append(problems, fmt.Sprintf("sync.fields: unknown field %q (valid: %s)", f, strings.Join(SyncFields, ", ")))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), ErrInvalid)
	}
	return nil
}

func validField(name string) bool {
	for _, f := range SyncFields {
		if f == name {
			return true
		}
	}
	return false
}
