package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RuntimeProfile holds daemon-identity data that isn't part of the
// editable config.toml override surface — persisted in runtime.yaml,
// directly modeled on the teacher's WingConfig/LoadWingConfig/
// SaveWingConfig round trip.
type RuntimeProfile struct {
	SessionHostID string   `yaml:"session_host_id"`
	Label         string   `yaml:"label,omitempty"`
	ConvRoots     []string `yaml:"conv_roots,omitempty"`
	Labels        []string `yaml:"labels,omitempty"`
	Debug         bool     `yaml:"debug,omitempty"`
}

// LoadRuntimeProfile reads runtime.yaml from dir. If the file doesn't
// exist it returns a zero-value profile (no error), matching
// LoadWingConfig's missing-file behavior.
func LoadRuntimeProfile(dir string) (*RuntimeProfile, error) {
	profile := &RuntimeProfile{}
	path := filepath.Join(dir, "runtime.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return profile, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// SaveRuntimeProfile writes runtime.yaml to dir, creating dir if needed.
func SaveRuntimeProfile(dir string, profile *RuntimeProfile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(profile)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "runtime.yaml"), data, 0o644)
}
