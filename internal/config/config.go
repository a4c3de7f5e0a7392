// Package config loads and validates the deb2arch configuration file.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/open-edge-platform/deb2arch/internal/config/validate"
	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/planner"
	"github.com/open-edge-platform/deb2arch/internal/provider"
	"github.com/open-edge-platform/deb2arch/internal/sandbox"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/open-edge-platform/deb2arch/internal/utils/system"
)

// GlobalConfig holds the process-wide settings.
type GlobalConfig struct {
	Workers     int             `yaml:"workers" validate:"gte=1,lte=256"`
	CacheDir    string          `yaml:"cache_dir" validate:"required"`
	WorkDir     string          `yaml:"work_dir" validate:"required"`
	ReportDir   string          `yaml:"report_dir,omitempty"`
	MetricsFile string          `yaml:"metrics_file,omitempty"`
	JobTimeout  time.Duration   `yaml:"job_timeout" validate:"gte=0"`
	Policy      string          `yaml:"policy" validate:"oneof=strict permissive dry_run"`
	Progress    bool            `yaml:"progress"`
	Logging     LoggingConfig   `yaml:"logging"`
	Mapper      MapperConfig    `yaml:"mapper"`
	Planner     PlannerConfig   `yaml:"planner"`
	Builder     BuilderConfig   `yaml:"builder"`
	Provider    provider.Config `yaml:"provider"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type MapperConfig struct {
	Threshold     float64 `yaml:"threshold" validate:"gte=0,lte=1"`
	LowConfidence float64 `yaml:"low_confidence" validate:"gte=0,lte=1"`
	// Arch evaluates architecture restrictions of "all" packages.
	Arch string `yaml:"arch,omitempty"`
	// TablesFile is overlaid on the built-in alias tables.
	TablesFile string `yaml:"tables_file,omitempty"`
	// SnapshotFile persists the package pool and lookup cache; relative
	// paths are under the cache directory.
	SnapshotFile string        `yaml:"snapshot_file,omitempty"`
	Rules        []mapper.Rule `yaml:"rules,omitempty" validate:"dive"`
}

type PlannerConfig struct {
	Packager  string             `yaml:"packager,omitempty"`
	PathRules []planner.PathRule `yaml:"path_rules,omitempty" validate:"dive"`
	Hooks     []planner.Hook     `yaml:"hooks,omitempty" validate:"dive"`
}

type BuilderConfig struct {
	CompressionLevel int               `yaml:"compression_level" validate:"gte=1,lte=22"`
	Overwrite        bool              `yaml:"overwrite"`
	StreamHookOutput bool              `yaml:"stream_hook_output"`
	BuildUser        *sandbox.Identity `yaml:"build_user,omitempty"`
	// SigningKey is the path of an armored private key.
	SigningKey string `yaml:"signing_key,omitempty"`
	// SigningPassphraseEnv names the variable holding the key passphrase.
	SigningPassphraseEnv string `yaml:"signing_passphrase_env,omitempty"`
}

// Version is set at link time.
var Version = "dev"

const (
	DefaultSnapshotFile = "mapping-snapshot.yaml"
	DefaultJobTimeout   = 10 * time.Minute
)

// DefaultConfigPaths are searched in order when no file is given.
var DefaultConfigPaths = []string{
	"deb2arch.yml",
	"deb2arch.yaml",
	"$XDG_CONFIG_HOME/deb2arch/config.yml",
	"$HOME/.config/deb2arch/config.yml",
	"/etc/deb2arch/config.yml",
}

// DefaultConfig returns the built-in configuration. The provider type is
// left empty and picked per host by ResolveProvider.
func DefaultConfig() *GlobalConfig {
	return &GlobalConfig{
		Workers:    runtime.NumCPU(),
		CacheDir:   "./cache",
		WorkDir:    "./workspace",
		ReportDir:  "reports",
		JobTimeout: DefaultJobTimeout,
		Policy:     "permissive",
		Logging:    LoggingConfig{Level: "info", Format: "console"},
		Mapper: MapperConfig{
			Threshold:     mapper.DefaultThreshold,
			LowConfidence: mapper.DefaultLowConfidence,
			SnapshotFile:  DefaultSnapshotFile,
		},
		Builder: BuilderConfig{
			CompressionLevel: sandbox.DefaultCompressionLevel,
			Overwrite:        true,
		},
	}
}

var validate10 = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints the schema cannot express.
func (c *GlobalConfig) Validate() error {
	if err := validate10.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Builder.BuildUser != nil && (c.Builder.BuildUser.UID < 0 || c.Builder.BuildUser.GID < 0) {
		return fmt.Errorf("invalid configuration: build_user ids must not be negative")
	}
	return nil
}

// Parse decodes a YAML configuration over the defaults. The document is
// checked against the embedded JSON schema before decoding.
func Parse(data []byte) (*GlobalConfig, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if string(bytes.TrimSpace(jsonData)) == "null" {
		return cfg, nil
	}
	if err := validate.ValidateConfigJSON(jsonData); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the configuration at path. An empty path searches
// DefaultConfigPaths and falls back to the defaults when none exists.
func Load(path string) (*GlobalConfig, error) {
	log := logger.Logger()
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			log.Debugf("No configuration file found, using defaults")
			return DefaultConfig(), nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("Loaded configuration from %s", path)
	return cfg, nil
}

// FindConfigFile returns the first existing default configuration path.
func FindConfigFile() string {
	for _, p := range DefaultConfigPaths {
		unset := false
		p = os.Expand(p, func(k string) string {
			v := os.Getenv(k)
			if v == "" {
				unset = true
			}
			return v
		})
		if unset {
			continue
		}
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// Marshal renders the configuration as YAML.
func (c *GlobalConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ResolveProvider fills in the provider type for this host when the
// configuration leaves it empty.
func (c *GlobalConfig) ResolveProvider(ctx context.Context) provider.Config {
	pc := c.Provider
	if pc.Type == "" {
		pc.Type = system.DefaultProvider(ctx)
	}
	return pc
}

// LoadMappingTables reads a YAML alias table file, checks it against the
// tables schema and decodes it.
func LoadMappingTables(path string) (*mapper.Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping tables: %w", err)
	}
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mapping tables %s: %w", path, err)
	}
	if err := validate.ValidateTablesJSON(jsonData); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mapper.ParseTables(data)
}

var (
	globalMu     sync.RWMutex
	globalConfig *GlobalConfig
)

// Global returns the process-wide configuration, the defaults until
// SetGlobal is called.
func Global() *GlobalConfig {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalConfig == nil {
		return DefaultConfig()
	}
	return globalConfig
}

func SetGlobal(c *GlobalConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = c
}
