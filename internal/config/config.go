package config

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// Overrides is the set of fields a profile (or the top-level document) may
// set, mirroring the key paths internal/configedit edits in place.
type Overrides struct {
	Model                    string `toml:"model,omitempty"`
	Effort                   string `toml:"model_reasoning_effort,omitempty"`
	ApprovalPolicy           string `toml:"approval_policy,omitempty"`
	SandboxPolicy            string `toml:"sandbox_policy,omitempty"`
	ForcedLoginMethod        string `toml:"forced_login_method,omitempty"`
	ForcedChatGPTWorkspaceID string `toml:"forced_chatgpt_workspace_id,omitempty"`
}

// Document is the parsed shape of config.toml: a base Overrides plus
// named profile sections, matching the profile-scoped layering that
// internal/configedit writes under ["profiles", name, ...].
type Document struct {
	Overrides
	Profile  string               `toml:"profile,omitempty"`
	Profiles map[string]Overrides `toml:"profiles,omitempty"`
}

// Config is the fully resolved configuration for one invocation: the base
// document with the active profile's fields applied on top, the profile
// winning over the document root the same way the teacher's
// Manager.mergeConfigs let project settings win over user settings.
type Config struct {
	Overrides
	ActiveProfile string
}

// Load reads configHome/config.toml (a missing file yields zero-value
// defaults, not an error) and resolves the active profile, matching
// Config::load's profile-resolution order: an explicit profile name wins
// over the document's own `profile` key.
func Load(configHome, profile string) (Config, error) {
	path := filepath.Join(configHome, "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{ActiveProfile: profile}, nil
		}
		return Config{}, fmt.Errorf("read config.toml: %w", err)
	}

	var doc Document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("parse config.toml: %w", err)
	}

	effective := profile
	if effective == "" {
		effective = doc.Profile
	}

	resolved := doc.Overrides
	if effective != "" {
		if override, ok := doc.Profiles[effective]; ok {
			resolved = mergeOverrides(resolved, override)
		}
	}

	return Config{Overrides: resolved, ActiveProfile: effective}, nil
}

// mergeOverrides applies override on top of base, a non-empty field in
// override always winning (profile-scoped values take precedence over the
// document root, mirroring how persist_overrides rewrites under
// ["profiles", name, ...] rather than the root table).
func mergeOverrides(base, override Overrides) Overrides {
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.Effort != "" {
		base.Effort = override.Effort
	}
	if override.ApprovalPolicy != "" {
		base.ApprovalPolicy = override.ApprovalPolicy
	}
	if override.SandboxPolicy != "" {
		base.SandboxPolicy = override.SandboxPolicy
	}
	if override.ForcedLoginMethod != "" {
		base.ForcedLoginMethod = override.ForcedLoginMethod
	}
	if override.ForcedChatGPTWorkspaceID != "" {
		base.ForcedChatGPTWorkspaceID = override.ForcedChatGPTWorkspaceID
	}
	return base
}
