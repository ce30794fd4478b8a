package worker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setFullEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAPIRoot, "http://localhost:5000/rest_api")
	t.Setenv(EnvAPIUsername, "worker1")
	t.Setenv(EnvAPIPassword, "sqrrl")
	t.Setenv(EnvExternalUsername, "ext")
	t.Setenv(EnvExternalPassword, "extpw")
	t.Setenv(EnvProject, "project")
	t.Setenv(EnvJobCommand, "echo test")
	t.Setenv(EnvJobType, "test")
	t.Setenv(EnvJobTimeout, "60")
}

func TestLoadConfigCommandMode(t *testing.T) {
	setFullEnv(t)

	cfg, err := LoadConfig(ModeCommand, "")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.APIRoot != "http://localhost:5000/rest_api" {
		t.Errorf("APIRoot = %q", cfg.APIRoot)
	}
	if cfg.JobCommand != "echo test" {
		t.Errorf("JobCommand = %q", cfg.JobCommand)
	}
	if cfg.JobTimeout != 60 {
		t.Errorf("JobTimeout = %d, want 60", cfg.JobTimeout)
	}
}

// TestLoadConfigMissingRequired removes each variable in turn and
// checks that only the optional ones may be absent.
func TestLoadConfigMissingRequired(t *testing.T) {
	required := []string{
		EnvAPIRoot, EnvAPIUsername, EnvAPIPassword, EnvProject, EnvJobCommand,
	}
	optional := []string{
		EnvExternalUsername, EnvExternalPassword, EnvJobType, EnvJobTimeout,
	}

	for _, key := range required {
		t.Run("missing "+key, func(t *testing.T) {
			setFullEnv(t)
			os.Unsetenv(key)
			_, err := LoadConfig(ModeCommand, "")
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("LoadConfig() without %s: error = %v, want ConfigError", key, err)
			}
		})
	}

	for _, key := range optional {
		t.Run("missing "+key, func(t *testing.T) {
			setFullEnv(t)
			os.Unsetenv(key)
			if _, err := LoadConfig(ModeCommand, ""); err != nil {
				t.Errorf("LoadConfig() without optional %s: error = %v", key, err)
			}
		})
	}
}

// TestLoadConfigEmptyPassword allows a token-as-username setup where
// the password is present but empty.
func TestLoadConfigEmptyPassword(t *testing.T) {
	setFullEnv(t)
	t.Setenv(EnvAPIPassword, "")

	if _, err := LoadConfig(ModeCommand, ""); err != nil {
		t.Errorf("LoadConfig() with empty password: error = %v", err)
	}
}

func TestLoadConfigBadTimeout(t *testing.T) {
	for _, bad := range []string{"abc", "-1", "1.5"} {
		t.Run(bad, func(t *testing.T) {
			setFullEnv(t)
			t.Setenv(EnvJobTimeout, bad)
			var cfgErr *ConfigError
			if _, err := LoadConfig(ModeCommand, ""); !errors.As(err, &cfgErr) {
				t.Errorf("LoadConfig() with timeout %q: error = %v, want ConfigError", bad, err)
			}
		})
	}
}

func TestLoadConfigImageMode(t *testing.T) {
	setFullEnv(t)
	// Image mode has no fixed command or project scope.
	os.Unsetenv(EnvProject)
	os.Unsetenv(EnvJobCommand)

	if _, err := LoadConfig(ModeImage, ""); err != nil {
		t.Errorf("LoadConfig(ModeImage) error: %v", err)
	}
}

// TestLoadConfigFile verifies YAML file values fill unset options and
// the environment wins on conflict.
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uworker.yaml")
	if err := os.WriteFile(path, []byte(
		"api_root: http://file:5000\n"+
			"api_username: fileuser\n"+
			"api_password: filepw\n"+
			"api_project: fileproject\n"+
			"job_command: file-cmd\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvAPIRoot, "http://env:5000")

	cfg, err := LoadConfig(ModeCommand, path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.APIRoot != "http://env:5000" {
		t.Errorf("APIRoot = %q, environment must win", cfg.APIRoot)
	}
	if cfg.APIUsername != "fileuser" || cfg.JobCommand != "file-cmd" {
		t.Errorf("file values not applied: %+v", cfg)
	}
}
