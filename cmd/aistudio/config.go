package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the aistudio configuration file (~/.config/aistudio/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	SettingsFile string `yaml:"settings_file"`

	// Runtime
	Accelerator        string `yaml:"accelerator"`
	CPUThreads         *int64 `yaml:"cpu_threads"`
	ContextLength      *int64 `yaml:"context_length"`
	ONNXRuntimeLibrary string `yaml:"onnxruntime_library"`
	ProbeWorkers       *int64 `yaml:"probe_workers"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "aistudio", "config.yaml")
}

// applyConfig applies config file defaults to the command variables whose
// flag was not explicitly set. Flags a command does not define are never set,
// so their variables pick up the config value harmlessly.
func applyConfig(c *cli.Command, cfg Config) {
	if cfg.DataDir != "" && !c.IsSet("data-dir") {
		dataDir = cfg.DataDir
	}
	if cfg.SettingsFile != "" && !c.IsSet("settings-file") {
		settingsFile = cfg.SettingsFile
	}
	if cfg.Accelerator != "" && !c.IsSet("accelerator") {
		accelerator = cfg.Accelerator
	}
	if cfg.CPUThreads != nil && !c.IsSet("cpu-threads") {
		cpuThreads = *cfg.CPUThreads
	}
	if cfg.ContextLength != nil && !c.IsSet("context-length") {
		contextLength = *cfg.ContextLength
	}
	if cfg.ONNXRuntimeLibrary != "" && !c.IsSet("onnxruntime-library") {
		ortLibrary = cfg.ONNXRuntimeLibrary
	}
	if cfg.ProbeWorkers != nil && !c.IsSet("probe-workers") {
		probeWorkers = *cfg.ProbeWorkers
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		serverAddress = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig() (Config, error) {
	path := configPath()
	if path == "" {
		return Config{}, nil
	}
	return loadConfigFile(path)
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
