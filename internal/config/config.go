// Package config loads the per-project devserve configuration.
//
// Configuration is optional by design: the built-in defaults describe the
// common case (a FastAPI backend run under uvicorn on port 8000), so
// `devserve start` works in a fresh checkout with no config file at all.
// A project overrides the defaults with a devserve.jsonc, devserve.json,
// devserve.yaml, or devserve.yml file in the working directory, and every
// setting can also be overridden through DEVSERVE_* environment variables.
//
// JSONC support matters because the config file doubles as the project's
// runbook: comments explaining why the grace period is long, or which
// process filter to use, live next to the values themselves. Comments are
// stripped with github.com/tidwall/jsonc before the bytes reach viper.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"

	"github.com/mmr-tortoise/devserve/internal/model"
)

// Built-in defaults. They mirror the development setup this tool was written
// for: a uvicorn-served backend on port 8000 with interactive docs at /docs.
const (
	// DefaultPort is the development port reconciled and served on.
	DefaultPort = 8000

	// DefaultProcessFilter matches the server process by name/cmdline.
	DefaultProcessFilter = "uvicorn"

	// DefaultCommand launches the development server.
	DefaultCommand = "uvicorn app:app --reload --port 8000"

	// DefaultHealthPath is probed over HTTP to decide readiness.
	DefaultHealthPath = "/docs"

	// DefaultReadyTimeout bounds the readiness wait after spawning.
	DefaultReadyTimeout = 30 * time.Second

	// DefaultGrace is how long a signalled process gets before SIGKILL.
	DefaultGrace = 5 * time.Second
)

// envPrefix namespaces the environment overrides (DEVSERVE_PORT, ...).
const envPrefix = "DEVSERVE"

// candidateFiles are the config file names searched in the working
// directory, in priority order.
var candidateFiles = []string{"devserve.jsonc", "devserve.json", "devserve.yaml", "devserve.yml"}

// Config holds the resolved project configuration.
type Config struct {
	// Project is the project name instance records are filed under.
	// Defaults to a sanitized form of the working directory's base name.
	Project string `mapstructure:"project"`

	// Port is the TCP port the development server binds (1-65535).
	Port int `mapstructure:"port"`

	// ProcessFilter is the case-insensitive substring used to recognize
	// stray server processes by name or command line.
	ProcessFilter string `mapstructure:"process_filter"`

	// Command is the shell-style command line that launches the server.
	Command string `mapstructure:"command"`

	// HealthPath is the HTTP path probed for readiness. Must start with "/".
	HealthPath string `mapstructure:"health_path"`

	// ReadyTimeout bounds the post-spawn readiness wait.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`

	// Grace is the delay between SIGTERM and SIGKILL when terminating
	// port holders (and the stop timeout passed to Docker).
	Grace time.Duration `mapstructure:"grace"`

	// Source is the path of the config file the values came from.
	// Empty when running purely on defaults and environment overrides.
	Source string `mapstructure:"-"`
}

// Load resolves the configuration for the given working directory.
//
// Resolution order (later wins):
//  1. built-in defaults
//  2. config file — explicitPath if non-empty (missing file is then an
//     error), otherwise the first of devserve.jsonc / devserve.json /
//     devserve.yaml / devserve.yml found in dir (missing is fine)
//  3. DEVSERVE_* environment variables
//
// Returns a model.CLIError with ExitConfigError on unreadable or invalid
// configuration.
func Load(dir, explicitPath string) (*Config, error) {
	v := viper.New()

	// Defaults first, so a partial config file only overrides what it names.
	v.SetDefault("project", defaultProject(dir))
	v.SetDefault("port", DefaultPort)
	v.SetDefault("process_filter", DefaultProcessFilter)
	v.SetDefault("command", DefaultCommand)
	v.SetDefault("health_path", DefaultHealthPath)
	v.SetDefault("ready_timeout", DefaultReadyTimeout)
	v.SetDefault("grace", DefaultGrace)

	// Environment overrides: DEVSERVE_PORT, DEVSERVE_PROCESS_FILTER, ...
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := ""
	switch {
	case explicitPath != "":
		// An explicitly requested file must exist.
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("config file %q not found", explicitPath), err)
		}
		if err := readFileInto(v, explicitPath); err != nil {
			return nil, err
		}
		source = explicitPath

	default:
		// Probe the candidates; absence of all of them is not an error.
		for _, name := range candidateFiles {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := readFileInto(v, path); err != nil {
				return nil, err
			}
			source = path
			break
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			"failed to parse configuration", err)
	}
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			"invalid configuration", err)
	}

	return cfg, nil
}

// readFileInto reads one config file into the viper instance, dispatching on
// the file extension. JSONC is translated to plain JSON first; viper handles
// JSON and YAML natively.
func readFileInto(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to read config file %q", path), err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonc":
		// jsonc.ToJSON replaces comments and trailing commas with
		// whitespace, preserving offsets so JSON syntax errors still point
		// at the right place in the original file.
		data = jsonc.ToJSON(data)
		v.SetConfigType("json")
	case ".json":
		v.SetConfigType("json")
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		return model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("unsupported config file extension %q (valid: .jsonc, .json, .yaml)", filepath.Ext(path)))
	}

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to parse config file %q", path), err)
	}
	return nil
}

// Validate checks the resolved configuration for values the rest of the
// tool cannot work with.
func (c *Config) Validate() error {
	if err := model.ValidateProject(c.Project); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range (1-65535)", c.Port)
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("command must not be empty")
	}
	if !strings.HasPrefix(c.HealthPath, "/") {
		return fmt.Errorf("health_path %q must start with \"/\"", c.HealthPath)
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be positive")
	}
	if c.Grace < 0 {
		return fmt.Errorf("grace must not be negative")
	}
	return nil
}

// projectCleanRegex strips characters that are not valid in project names.
var projectCleanRegex = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// defaultProject derives a project name from the working directory's base
// name: invalid characters become hyphens, the result is lowercased and
// trimmed. Falls back to "devserve" when nothing usable remains (e.g., the
// directory is named "___" or dir is the filesystem root).
func defaultProject(dir string) string {
	base := filepath.Base(dir)
	name := projectCleanRegex.ReplaceAllString(base, "-")
	name = strings.Trim(strings.ToLower(name), "-")
	if model.ValidateProject(name) != nil {
		return "devserve"
	}
	return name
}
