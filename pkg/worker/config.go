package worker

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Mode selects how jobs are executed.
type Mode string

const (
	// ModeCommand runs every job through a fixed local command.
	ModeCommand Mode = "command"

	// ModeImage runs each job through the container image it carries.
	ModeImage Mode = "image"
)

// Environment variables consumed at startup.
const (
	EnvAPIRoot          = "UWORKER_JOB_API_ROOT"
	EnvAPIUsername      = "UWORKER_JOB_API_USERNAME"
	EnvAPIPassword      = "UWORKER_JOB_API_PASSWORD"
	EnvExternalUsername = "UWORKER_EXTERNAL_API_USERNAME"
	EnvExternalPassword = "UWORKER_EXTERNAL_API_PASSWORD"
	EnvProject          = "UWORKER_JOB_API_PROJECT"
	EnvJobCommand       = "UWORKER_JOB_CMD"
	EnvJobType          = "UWORKER_JOB_TYPE"
	EnvJobTimeout       = "UWORKER_JOB_TIMEOUT"
)

// ConfigError is a fatal startup misconfiguration: a missing required
// option or a mode the current host cannot support.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// Config holds agent configuration, sourced from the environment with
// an optional YAML file underneath (environment wins).
type Config struct {
	Mode Mode `yaml:"-"`

	APIRoot     string `yaml:"api_root"`
	APIUsername string `yaml:"api_username"`
	APIPassword string `yaml:"api_password"`

	// Pass-through credentials appended to the child argument list
	// when the job has a target URL.
	ExternalUsername string `yaml:"external_username"`
	ExternalPassword string `yaml:"external_password"`

	// Command-mode options.
	Project    string `yaml:"api_project"`
	JobCommand string `yaml:"job_command"`
	JobType    string `yaml:"job_type"`

	// JobTimeout bounds job wall clock in seconds; 0 means unbounded.
	JobTimeout int `yaml:"job_timeout"`

	// CredentialsFile optionally replaces the api_username/api_password
	// pair with a JSON credentials file.
	CredentialsFile string `yaml:"credentials_file"`

	// RuntimeCLI is the container runtime command for image mode.
	RuntimeCLI string `yaml:"runtime_cli"`

	// RuntimeSocket is the containerd socket probed at image-mode
	// startup (empty selects the default).
	RuntimeSocket string `yaml:"runtime_socket"`
}

// LoadConfig builds a Config for the given mode from the environment,
// with values from an optional YAML file filling unset options.
func LoadConfig(mode Mode, configFile string) (Config, error) {
	cfg := Config{Mode: mode}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
		cfg.Mode = mode
	}

	setenv := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setenv(&cfg.APIRoot, EnvAPIRoot)
	setenv(&cfg.APIUsername, EnvAPIUsername)
	// The password must be set but may be empty: a token can be used
	// as the username with an empty password.
	if v, ok := os.LookupEnv(EnvAPIPassword); ok {
		cfg.APIPassword = v
	} else if _, userFromEnv := os.LookupEnv(EnvAPIUsername); userFromEnv && cfg.CredentialsFile == "" {
		return Config{}, &ConfigError{Reason: "missing config value: " + EnvAPIPassword}
	}
	setenv(&cfg.ExternalUsername, EnvExternalUsername)
	setenv(&cfg.ExternalPassword, EnvExternalPassword)
	setenv(&cfg.Project, EnvProject)
	setenv(&cfg.JobCommand, EnvJobCommand)
	setenv(&cfg.JobType, EnvJobType)

	// Zero or absent disables the timeout.
	if v, ok := os.LookupEnv(EnvJobTimeout); ok && v != "" {
		timeout, err := strconv.Atoi(v)
		if err != nil || timeout < 0 {
			return Config{}, &ConfigError{Reason: fmt.Sprintf(
				"%s must be a non-negative integer, got %q", EnvJobTimeout, v)}
		}
		cfg.JobTimeout = timeout
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every option the mode requires is present.
func (c Config) Validate() error {
	if c.Mode != ModeCommand && c.Mode != ModeImage {
		return &ConfigError{Reason: fmt.Sprintf("unknown mode %q", c.Mode)}
	}
	if c.APIRoot == "" {
		return &ConfigError{Reason: "missing config value: " + EnvAPIRoot}
	}
	if c.CredentialsFile == "" && c.APIUsername == "" {
		return &ConfigError{Reason: "missing config value: " + EnvAPIUsername}
	}
	if c.Mode == ModeCommand {
		if c.Project == "" {
			return &ConfigError{Reason: "missing config value: " + EnvProject}
		}
		if c.JobCommand == "" {
			return &ConfigError{Reason: "missing config value: " + EnvJobCommand}
		}
	}
	if c.JobTimeout < 0 {
		return &ConfigError{Reason: "job timeout must not be negative"}
	}
	return nil
}

// logConfig logs the loaded configuration one option per line, with
// secret values redacted.
func (c Config) logConfig(logger zerolog.Logger) {
	redact := func(v string) string {
		if v == "" {
			return ""
		}
		return "********"
	}
	fields := map[string]string{
		"mode":              string(c.Mode),
		"api_root":          c.APIRoot,
		"api_username":      c.APIUsername,
		"api_password":      redact(c.APIPassword),
		"external_username": c.ExternalUsername,
		"external_password": redact(c.ExternalPassword),
		"api_project":       c.Project,
		"job_command":       c.JobCommand,
		"job_type":          c.JobType,
		"job_timeout":       strconv.Itoa(c.JobTimeout),
		"credentials_file":  c.CredentialsFile,
		"runtime_cli":       c.RuntimeCLI,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	logger.Info().Msg("loaded config:")
	for _, k := range keys {
		logger.Info().Msgf("%s = %s", k, fields[k])
	}
}
