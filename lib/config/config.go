// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads.
const EnvVar = "FUSEX_AUTH_CONFIG"

// ErrNoConfig is returned by Load when EnvVar is unset.
var ErrNoConfig = errors.New("config: " + EnvVar + " not set; point it at a config file or pass --config")

// ErrUnknownFormat is returned for a file extension with no parser.
var ErrUnknownFormat = errors.New("config: unrecognized file extension")

// Config selects which credential mechanisms are tried and how the
// caches and fallbacks behave.
type Config struct {
	// Mechanism switches. Any of them enabled means environment
	// discovery runs; all disabled short-circuits to unix auth.
	UseKrb5   bool `yaml:"krb5" json:"krb5"`
	UseX509   bool `yaml:"gsi" json:"gsi"`
	UseSSS    bool `yaml:"sss" json:"sss"`
	UseOAuth2 bool `yaml:"oauth2" json:"oauth2"`
	UseZTN    bool `yaml:"ztn" json:"ztn"`

	// TryKrb5First orders Kerberos before X509 during discovery.
	TryKrb5First bool `yaml:"krb5_first" json:"krb5_first"`

	// EnvironDeadlockTimeout bounds how long a request waits for a
	// /proc/<pid>/environ read before falling through.
	EnvironDeadlockTimeout string `yaml:"environ_deadlock_timeout" json:"environ_deadlock_timeout"`

	// EnvironReaderWorkers sizes the environ reader pool.
	EnvironReaderWorkers int `yaml:"environ_reader_workers" json:"environ_reader_workers"`

	// ForknoexecHeuristic checks the parent's environment first when
	// the process has forked but not yet exec'd.
	ForknoexecHeuristic bool `yaml:"forknoexec_heuristic" json:"forknoexec_heuristic"`

	// FallbackToNobody ends discovery with the nobody identity rather
	// than unix auth.
	FallbackToNobody bool `yaml:"fallback_to_nobody" json:"fallback_to_nobody"`

	// CredentialStore is the directory credential copies go to. Empty
	// disables copying, so credentials only readable through another
	// jail are rejected.
	CredentialStore string `yaml:"credential_store" json:"credential_store"`

	// GlobalBindingDir holds administrator bindings named
	// uid<uid>.krb5 and uid<uid>.x509.
	GlobalBindingDir string `yaml:"global_binding_dir" json:"global_binding_dir"`

	// DefaultKrb5Ccache is the KRB5CCNAME assumed when a process sets
	// none. A single %d is replaced with the uid.
	DefaultKrb5Ccache string `yaml:"default_krb5_ccache" json:"default_krb5_ccache"`

	// ProcRoot is where the proc filesystem is mounted.
	ProcRoot string `yaml:"proc_root" json:"proc_root"`

	// ProcessCacheTTL and CredentialCacheTTL are the sweep periods of
	// the two caches.
	ProcessCacheTTL    string `yaml:"process_cache_ttl" json:"process_cache_ttl"`
	CredentialCacheTTL string `yaml:"credential_cache_ttl" json:"credential_cache_ttl"`
}

// Default returns the configuration used for fields a file omits.
func Default() *Config {
	return &Config{
		UseKrb5:                true,
		UseX509:                true,
		TryKrb5First:           true,
		EnvironDeadlockTimeout: "100ms",
		EnvironReaderWorkers:   3,
		ForknoexecHeuristic:    true,
		GlobalBindingDir:       "/var/run/eosd/credentials",
		DefaultKrb5Ccache:      "FILE:/tmp/krb5cc_%d",
		ProcRoot:               "/proc",
		ProcessCacheTTL:        "10m",
		CredentialCacheTTL:     "12h",
	}
}

// Load loads the file named by FUSEX_AUTH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, ErrNoConfig
	}
	return LoadFile(path)
}

// LoadFile loads path over Default and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := cfg.decode(filepath.Ext(path), data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(extension string, data []byte) error {
	switch strings.ToLower(extension) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	case ".json", ".jsonc", ".conf":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return fmt.Errorf("%w %q", ErrUnknownFormat, extension)
	}
}

// AnyMechanism reports whether any credential mechanism is enabled.
func (c *Config) AnyMechanism() bool {
	return c.UseKrb5 || c.UseX509 || c.UseSSS || c.UseOAuth2 || c.UseZTN
}

// EnvironTimeout returns EnvironDeadlockTimeout parsed. Call after
// Validate.
func (c *Config) EnvironTimeout() time.Duration {
	return mustDuration(c.EnvironDeadlockTimeout)
}

// ProcessTTL returns ProcessCacheTTL parsed. Call after Validate.
func (c *Config) ProcessTTL() time.Duration {
	return mustDuration(c.ProcessCacheTTL)
}

// CredentialTTL returns CredentialCacheTTL parsed. Call after
// Validate.
func (c *Config) CredentialTTL() time.Duration {
	return mustDuration(c.CredentialCacheTTL)
}

// Krb5CcacheFor expands DefaultKrb5Ccache for uid.
func (c *Config) Krb5CcacheFor(uid uint32) string {
	if strings.Contains(c.DefaultKrb5Ccache, "%d") {
		return fmt.Sprintf(c.DefaultKrb5Ccache, uid)
	}
	return c.DefaultKrb5Ccache
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.EnvironReaderWorkers <= 0 {
		errs = append(errs, fmt.Errorf("environ_reader_workers must be positive, got %d", c.EnvironReaderWorkers))
	}

	durations := []struct {
		name  string
		value string
	}{
		{"environ_deadlock_timeout", c.EnvironDeadlockTimeout},
		{"process_cache_ttl", c.ProcessCacheTTL},
		{"credential_cache_ttl", c.CredentialCacheTTL},
	}
	for _, field := range durations {
		parsed, err := time.ParseDuration(field.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
			continue
		}
		if parsed <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field.name, field.value))
		}
	}

	if c.ProcRoot == "" || !filepath.IsAbs(c.ProcRoot) {
		errs = append(errs, fmt.Errorf("proc_root must be an absolute path, got %q", c.ProcRoot))
	}
	if c.CredentialStore != "" && !filepath.IsAbs(c.CredentialStore) {
		errs = append(errs, fmt.Errorf("credential_store must be an absolute path, got %q", c.CredentialStore))
	}
	if strings.Count(c.DefaultKrb5Ccache, "%") > 1 {
		errs = append(errs, fmt.Errorf("default_krb5_ccache may contain at most one %%d, got %q", c.DefaultKrb5Ccache))
	}

	return errors.Join(errs...)
}

func mustDuration(value string) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("config: duration %q used before Validate: %v", value, err))
	}
	return parsed
}
