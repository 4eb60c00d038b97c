package auth

import "sync"

// Manager caches the loaded Auth for a CODE_HOME and lets callers force
// a reload from disk after a login/logout, matching AuthManager
// (auth/reload/shared).
type Manager struct {
	codeHome            string
	enableCodexAPIKeyEnv bool
	refresher           TokenRefresher

	mu      sync.Mutex
	current *Auth
}

// NewManager returns a Manager for codeHome. When enableCodexAPIKeyEnv
// is true, Reload prefers a CODEX_API_KEY environment override over
// auth.json, matching AuthManager::new(..., enable_codex_api_key_env).
func NewManager(codeHome string, enableCodexAPIKeyEnv bool, refresher TokenRefresher) *Manager {
	m := &Manager{codeHome: codeHome, enableCodexAPIKeyEnv: enableCodexAPIKeyEnv, refresher: refresher}
	m.Reload()
	return m
}

// Auth returns the currently cached credential, or nil if none is
// available.
func (m *Manager) Auth() *Auth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reload re-reads the credential from the environment/auth.json,
// returning whether the cached value changed, matching
// AuthManager::reload.
func (m *Manager) Reload() bool {
	var next *Auth

	if m.enableCodexAPIKeyEnv {
		if key, ok := ReadAPIKeyFromEnv("CODEX_API_KEY"); ok {
			next = FromAPIKey(key)
		}
	}
	if next == nil {
		loaded, err := Load(m.codeHome, m.refresher)
		if err == nil {
			next = loaded
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	changed := (m.current == nil) != (next == nil)
	if !changed && m.current != nil && next != nil {
		changed = m.current.Mode != next.Mode || m.current.APIKey != next.APIKey
	}
	m.current = next
	return changed
}

// Logout deletes auth.json and clears the cached credential.
func (m *Manager) Logout() (bool, error) {
	removed, err := Logout(m.codeHome)
	if err != nil {
		return removed, err
	}
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	return removed, nil
}
