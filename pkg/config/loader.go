package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// KubeRootYAMLConfig represents the complete kuberoot.yaml file structure
type KubeRootYAMLConfig struct {
	Server   *ServerConfig            `yaml:"server"`
	Clusters map[string]ClusterConfig `yaml:"clusters"`
	Policy   *PolicyYAMLConfig        `yaml:"policy"`
	Defaults  *Defaults                `yaml:"defaults"`
	Limits    *AgentLimits             `yaml:"limits"`
	Worker    *WorkerConfig            `yaml:"worker"`
	Retention *RetentionConfig         `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Merge built-in + user-defined configurations
//  4. Load the kubeignore filter
//  5. Apply default values
//  6. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"clusters", stats.Clusters,
		"llm_providers", stats.LLMProviders,
		"kubeignore_patterns", stats.KubeignorePatterns,
		"recon_mode", cfg.Policy.ReconMode)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	// 1. Load kuberoot.yaml (server, clusters, policy, defaults, limits, worker)
	rootConfig, err := loader.loadKubeRootYAML()
	if err != nil {
		return nil, NewLoadError("kuberoot.yaml", err)
	}

	// 2. Load llm-providers.yaml
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Merge built-in + user-defined providers (user overrides built-in)
	builtin := GetBuiltinConfig()
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 4. Kubeignore is optional; a missing file means "ignore nothing".
	kubeignore, err := LoadKubeignore(filepath.Join(configDir, "kubeignore"))
	if err != nil {
		return nil, NewLoadError("kubeignore", err)
	}

	// 5. Resolve server, limits, and worker settings. Start with the
	// built-in defaults, then merge user YAML on top so unset fields
	// keep their defaults.
	server := &ServerConfig{Host: "0.0.0.0", Port: 8000}
	if rootConfig.Server != nil {
		if err := mergo.Merge(server, rootConfig.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	limits := DefaultAgentLimits()
	if rootConfig.Limits != nil {
		if err := mergo.Merge(limits, rootConfig.Limits, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge agent limits: %w", err)
		}
	}

	worker := DefaultWorkerConfig()
	if rootConfig.Worker != nil {
		if err := mergo.Merge(worker, rootConfig.Worker, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge worker config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if rootConfig.Retention != nil {
		if err := mergo.Merge(retention, rootConfig.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	// 6. Resolve defaults
	defaults := rootConfig.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.LLMProvider == "" {
		defaults.LLMProvider = builtin.DefaultLLMProvider
	}

	return &Config{
		configDir:           configDir,
		Server:              server,
		Defaults:            defaults,
		Limits:              limits,
		Worker:              worker,
		Retention:           retention,
		Policy:              resolvePolicy(rootConfig.Policy),
		Kubeignore:          kubeignore,
		ClusterRegistry:     NewClusterRegistry(mergeClusters(rootConfig.Clusters)),
		LLMProviderRegistry: NewLLMProviderRegistry(llmProvidersMerged),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through the original data on parse errors,
	// letting the YAML parser produce the clearer failure.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadKubeRootYAML() (*KubeRootYAMLConfig, error) {
	var config KubeRootYAMLConfig
	config.Clusters = make(map[string]ClusterConfig)

	if err := l.loadYAML("kuberoot.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// loadLLMProvidersYAML loads llm-providers.yaml. The file is optional;
// the built-in providers apply when it is absent.
func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return config.LLMProviders, nil
		}
		return nil, err
	}
	return config.LLMProviders, nil
}
