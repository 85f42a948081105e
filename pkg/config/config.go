package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBackend           = "local"
	DefaultOllamaHost        = "http://127.0.0.1:11434"
	DefaultNumCtxTokens      = 512
	DefaultBatchSize         = 8
	DefaultTensorLogInterval = 8
	DefaultElasticIndex      = "llama_embd"
	localConfigFile          = "llama-embd.yaml"
)

type Config struct {
	Defaults Defaults `yaml:"defaults"`
	Database Database `yaml:"database"`
	Elastic  Elastic  `yaml:"elastic"`
}

// Defaults fill in options not given on the command line. Zero means unset.
type Defaults struct {
	Backend           string `yaml:"backend"`
	NumThreads        int    `yaml:"num_threads"`
	NumCtxTokens      int    `yaml:"num_ctx_tokens"`
	BatchSize         int    `yaml:"batch_size"`
	TensorLogInterval int    `yaml:"tensor_log_interval"`
	OllamaHost        string `yaml:"ollama_host"`
}

type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type Elastic struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

func Default() *Config {
	return &Config{
		Defaults: Defaults{
			Backend:           DefaultBackend,
			NumCtxTokens:      DefaultNumCtxTokens,
			BatchSize:         DefaultBatchSize,
			TensorLogInterval: DefaultTensorLogInterval,
			OllamaHost:        DefaultOllamaHost,
		},
		Database: Database{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Elastic: Elastic{
			Index: DefaultElasticIndex,
		},
	}
}

type Manager struct {
	config     *Config
	configPath string
	explicit   bool
	logf       func(string, ...interface{})
}

// NewManager reads from configPath, or searches the usual locations when it
// is empty. logf receives debug messages and may be nil.
func NewManager(configPath string, logf func(string, ...interface{})) *Manager {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Manager{
		configPath: configPath,
		explicit:   configPath != "",
		logf:       logf,
	}
}

// LoadConfig overlays the YAML file on Default. A missing file is only an
// error when its path was given explicitly.
func (m *Manager) LoadConfig() error {
	if m.configPath == "" {
		m.configPath = m.findConfigFile()
	}

	cfg := Default()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !m.explicit {
			m.logf("no config file found, using built-in defaults")
			m.config = cfg
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	m.logf("loading config from %s", m.configPath)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
	}

	if err := m.validateConfig(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.config = cfg
	return nil
}

func (m *Manager) GetConfig() *Config {
	return m.config
}

func (m *Manager) Path() string {
	return m.configPath
}

func (m *Manager) findConfigFile() string {
	if _, err := os.Stat(localConfigFile); err == nil {
		return localConfigFile
	}

	return GetDefaultConfigPath()
}

func (m *Manager) validateConfig(config *Config) error {
	d := config.Defaults
	if d.NumThreads < 0 {
		return fmt.Errorf("num_threads must not be negative")
	}
	if d.NumCtxTokens < 0 {
		return fmt.Errorf("num_ctx_tokens must not be negative")
	}
	if d.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	if d.TensorLogInterval < 0 {
		return fmt.Errorf("tensor_log_interval must not be negative")
	}
	if config.Database.Enabled && config.Database.Port <= 0 {
		return fmt.Errorf("database port must be greater than 0")
	}

	return nil
}
