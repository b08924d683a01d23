package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models sitetrace.yml.
type Config struct {
	Platform struct {
		BaseURL  string `yaml:"base_url"`
		Token    string `yaml:"token"`
		PageSize int    `yaml:"page_size"`
	} `yaml:"platform"`
	Performed struct {
		// Namespace prefixes every derived as-performed IRI.
		Namespace string `yaml:"namespace"`
		// SharedOperationStart makes an Operation inherit its Activity's
		// planned start instead of the earliest observation timestamp.
		SharedOperationStart bool `yaml:"shared_operation_start"`
	} `yaml:"performed"`
	// Ontology maps symbolic attribute/edge names to predicate IRIs.
	Ontology  map[string]string `yaml:"ontology"`
	Workspace string            `yaml:"workspace"`
	Logging   struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// Symbolic ontology names the engine resolves through Predicate.
const (
	PlannedStart            = "plannedStart"
	PlannedEnd              = "plannedEnd"
	ProcessStart            = "processStart"
	ProcessEnd              = "processEnd"
	LastUpdated             = "lastUpdated"
	TimeStamp               = "timeStamp"
	Progress                = "progress"
	HasTaskType             = "hasTaskType"
	HasProductionMethodType = "hasProductionMethodType"
	ConstructionContractor  = "constructionContractor"
	IntentStatus            = "intentStatus"
	HasAction               = "hasAction"
	HasOperation            = "hasOperation"
	HasTarget               = "hasTarget"
)

var requiredNames = []string{
	PlannedStart, PlannedEnd, ProcessStart, ProcessEnd, LastUpdated,
	TimeStamp, Progress, HasTaskType, HasProductionMethodType,
	ConstructionContractor, IntentStatus, HasAction, HasOperation, HasTarget,
}

// Default returns a config pointing at the given platform URL with the
// standard digital-construction ontology mapping.
func Default(baseURL string) *Config {
	cfg := &Config{}
	cfg.Platform.BaseURL = baseURL
	cfg.Platform.PageSize = 200
	cfg.Performed.Namespace = "urn:sitetrace:asperformed:"
	cfg.Performed.SharedOperationStart = true
	cfg.Workspace = "."
	cfg.Logging.Level = "info"
	cfg.Ontology = map[string]string{}
	const ont = "https://w3id.org/digitalconstruction/0.5/"
	for _, name := range requiredNames {
		cfg.Ontology[name] = ont + name
	}
	return cfg
}

// Load reads config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a YAML config document. Fields absent
// from the document keep their defaults, so a minimal config only needs
// the platform block.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Platform.BaseURL) == "" {
		return fmt.Errorf("config.platform.base_url is required")
	}
	if c.Platform.PageSize <= 0 {
		return fmt.Errorf("config.platform.page_size must be positive")
	}
	if c.Performed.Namespace == "" {
		return fmt.Errorf("config.performed.namespace is required")
	}
	for _, name := range requiredNames {
		if c.Ontology[name] == "" {
			return fmt.Errorf("config.ontology.%s is required", name)
		}
	}
	return nil
}

// Predicate resolves a symbolic name to its ontology predicate IRI.
func (c *Config) Predicate(name string) (string, error) {
	iri, ok := c.Ontology[name]
	if !ok || iri == "" {
		return "", fmt.Errorf("ontology name %q not mapped", name)
	}
	return iri, nil
}

// MustPredicate resolves a name known at compile time; Validate rules
// out a missing mapping for the required set.
func (c *Config) MustPredicate(name string) string {
	iri, err := c.Predicate(name)
	if err != nil {
		panic(err)
	}
	return iri
}
