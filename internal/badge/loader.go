package badge

import (
	_ "embed"
	"fmt"
	"os"

	"ecolearn-gamification/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

type rulesFile struct {
	Badges []Definition `yaml:"badges"`
}

// Parse decodes and compiles a YAML rules document.
func Parse(data []byte) ([]Rule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &domain.ConfigurationError{Rule: "*", Reason: fmt.Sprintf("parse rules: %v", err)}
	}
	return Compile(file.Badges)
}

// LoadFile reads rules from path.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read badge rules: %w", err)
	}
	return Parse(data)
}

// LoadDefault returns the built-in rule set.
func LoadDefault() ([]Rule, error) {
	return Parse(defaultRules)
}

// Load reads path when set and falls back to the built-in rules otherwise.
func Load(path string) ([]Rule, error) {
	if path == "" {
		return LoadDefault()
	}
	return LoadFile(path)
}
