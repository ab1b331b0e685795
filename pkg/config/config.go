// Package config loads bootstrap settings from defaults, an optional YAML file and
// BOOTSTRAP_* environment variables, in increasing order of precedence. Command line
// flags are applied on top by the cmd package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
)

// DefaultFileName is looked up in the application directory when no --config is given.
const DefaultFileName = "bootstrap.yaml"

const envPrefix = "BOOTSTRAP_"

type Config struct {
	AppDir     string           `json:"app_dir"`
	Python     string           `json:"python"`
	Log        LogConfig        `json:"log"`
	Entrypoint EntrypointConfig `json:"entrypoint"`
	Prestart   PrestartConfig   `json:"prestart"`
	Package    PackageConfig    `json:"package"`
	Database   DatabaseConfig   `json:"database"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

type EntrypointConfig struct {
	PrestartScript    string   `json:"prestart_script"`
	ManageFile        string   `json:"manage_file"`
	DotEnv            string   `json:"dotenv"`
	MigrateArgs       []string `json:"migrate_args"`
	CollectStaticArgs []string `json:"collectstatic_args"`
	ShowSecrets       bool     `json:"show_secrets"`
	ReportDir         string   `json:"report_dir"`
}

type PrestartConfig struct {
	Dirs         []string        `json:"dirs"`
	Mode         string          `json:"mode"`
	CleanupAfter metav1.Duration `json:"cleanup_after"`
}

type PackageConfig struct {
	Requirements  string   `json:"requirements"`
	Target        string   `json:"target"`
	Variant       string   `json:"variant"`
	ExtraPatterns []string `json:"extra_patterns"`
}

type DatabaseConfig struct {
	Wait     bool            `json:"wait"`
	Timeout  metav1.Duration `json:"timeout"`
	Interval metav1.Duration `json:"interval"`
}

type MetricsConfig struct {
	Textfile string `json:"textfile"`
}

// Default returns the settings the original container scripts hard-coded.
func Default() *Config {
	return &Config{
		AppDir: "/app",
		Python: "python",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Entrypoint: EntrypointConfig{
			PrestartScript:    "prestart.sh",
			ManageFile:        "manage.py",
			DotEnv:            ".env",
			MigrateArgs:       []string{"migrate", "--noinput"},
			CollectStaticArgs: []string{"collectstatic", "--noinput"},
		},
		Prestart: PrestartConfig{
			Dirs: []string{"uploads", "logs"},
			Mode: "0755",
		},
		Package: PackageConfig{
			Requirements: "requirements.txt",
			Target:       "package",
			Variant:      "slim",
		},
		Database: DatabaseConfig{
			Timeout:  metav1.Duration{Duration: 60 * time.Second},
			Interval: metav1.Duration{Duration: 2 * time.Second},
		},
	}
}

// Load builds the effective configuration. An explicit path must exist; when path is
// empty, <app_dir>/bootstrap.yaml is read if present. lookup is usually os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if v, ok := lookup(envPrefix + "APP_DIR"); ok && v != "" {
		cfg.AppDir = v
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.AppDir, DefaultFileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, cberrors.New(cberrors.CodeConfigurationInvalid, "config", fmt.Sprintf("parsing %s", path), err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, cberrors.New(cberrors.CodeFileNotFound, "config", fmt.Sprintf("reading %s", path), err)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(envPrefix + key)
		return strings.TrimSpace(v)
	}

	c.AppDir = getFirstNonEmpty(get("APP_DIR"), c.AppDir)
	c.Python = getFirstNonEmpty(get("PYTHON"), c.Python)
	c.Log.Level = getFirstNonEmpty(get("LOG_LEVEL"), c.Log.Level)
	c.Log.File = getFirstNonEmpty(get("LOG_FILE"), c.Log.File)
	c.Package.Variant = getFirstNonEmpty(get("PACKAGE_VARIANT"), c.Package.Variant)
	c.Metrics.Textfile = getFirstNonEmpty(get("METRICS_TEXTFILE"), c.Metrics.Textfile)
	c.Entrypoint.ReportDir = getFirstNonEmpty(get("REPORT_DIR"), c.Entrypoint.ReportDir)

	if v := get("DB_WAIT"); v != "" {
		wait, err := strconv.ParseBool(v)
		if err != nil {
			return cberrors.New(cberrors.CodeInvalidParameter, "config", envPrefix+"DB_WAIT", err)
		}
		c.Database.Wait = wait
	}
	if v := get("DB_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cberrors.New(cberrors.CodeInvalidParameter, "config", envPrefix+"DB_TIMEOUT", err)
		}
		c.Database.Timeout = metav1.Duration{Duration: d}
	}
	return nil
}

// Validate checks values that cannot be fixed up with defaults.
func (c *Config) Validate() error {
	if c.AppDir == "" {
		return cberrors.Newf(cberrors.CodeMissingParameter, "config", "app_dir must not be empty")
	}
	if c.Python == "" {
		return cberrors.Newf(cberrors.CodeMissingParameter, "config", "python must not be empty")
	}
	if _, err := c.Prestart.FileMode(); err != nil {
		return err
	}
	switch c.Package.Variant {
	case "slim", "compiled":
	default:
		return cberrors.Newf(cberrors.CodeInvalidParameter, "config", "unknown package variant %q", c.Package.Variant)
	}
	if c.Database.Timeout.Duration <= 0 || c.Database.Interval.Duration <= 0 {
		return cberrors.Newf(cberrors.CodeInvalidParameter, "config", "database timeout and interval must be positive")
	}
	return nil
}

// FileMode parses the octal permission string, e.g. "0755".
func (p PrestartConfig) FileMode() (os.FileMode, error) {
	v, err := strconv.ParseUint(p.Mode, 8, 32)
	if err != nil || v > 0o777 {
		return 0, cberrors.Newf(cberrors.CodeInvalidParameter, "config", "invalid directory mode %q", p.Mode)
	}
	return os.FileMode(v), nil
}

// Resolve joins a possibly relative path onto the application directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.AppDir, path)
}

func getFirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
