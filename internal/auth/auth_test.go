package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeAuthFile(t *testing.T, dir string, doc AuthDotJson) {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(AuthFilePath(dir), data, 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadReturnsNilWhenNoAuthFile(t *testing.T) {
	dir := t.TempDir()
	a, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a != nil {
		t.Fatalf("expected nil auth, got %v", a)
	}
}

func TestLoadPrefersAPIKeyOverTokens(t *testing.T) {
	dir := t.TempDir()
	apiKey := "sk-test"
	recent := time.Now()
	writeAuthFile(t, dir, AuthDotJson{
		OpenAIAPIKey: &apiKey,
		Tokens:       &Tokens{AccessToken: "a", RefreshToken: "r"},
		LastRefresh:  &recent,
	})

	a, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Mode != ModeAPIKey || a.APIKey != apiKey {
		t.Fatalf("got %+v", a)
	}
}

func TestGetTokenDataNoRefreshWithinWindow(t *testing.T) {
	dir := t.TempDir()
	recent := time.Now().Add(-1 * time.Hour)
	writeAuthFile(t, dir, AuthDotJson{
		Tokens:      &Tokens{AccessToken: "fresh", RefreshToken: "r"},
		LastRefresh: &recent,
	})

	a, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := a.GetTokenData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tokens.AccessToken != "fresh" {
		t.Fatalf("expected cached token without refresh, got %+v", tokens)
	}
}

type fakeRefresher struct {
	tokens Tokens
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (Tokens, error) {
	return f.tokens, nil
}

func TestGetTokenDataRefreshesPastWindow(t *testing.T) {
	dir := t.TempDir()
	stale := time.Now().Add(-29 * 24 * time.Hour)
	writeAuthFile(t, dir, AuthDotJson{
		Tokens:      &Tokens{AccessToken: "stale", RefreshToken: "r"},
		LastRefresh: &stale,
	})

	refresher := &fakeRefresher{tokens: Tokens{AccessToken: "renewed", RefreshToken: "r2"}}
	a, err := Load(dir, refresher)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := a.GetTokenData(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tokens.AccessToken != "renewed" {
		t.Fatalf("expected refreshed token, got %+v", tokens)
	}

	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "renewed") {
		t.Fatalf("expected refreshed token persisted, got %s", data)
	}
}

func TestLoginWithAPIKeyThenLogout(t *testing.T) {
	dir := t.TempDir()
	if err := LoginWithAPIKey(dir, "sk-abc"); err != nil {
		t.Fatal(err)
	}
	a, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Mode != ModeAPIKey || a.APIKey != "sk-abc" {
		t.Fatalf("got %+v", a)
	}

	removed, err := Logout(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatalf("expected auth.json removed")
	}
	removedAgain, err := Logout(dir)
	if err != nil {
		t.Fatal(err)
	}
	if removedAgain {
		t.Fatalf("expected second logout to report false")
	}
}

func fakeIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return header + "." + payload + "."
}

func TestEnforceLoginRestrictionsBlocksWorkspaceMismatch(t *testing.T) {
	dir := t.TempDir()
	idToken := fakeIDToken(t, map[string]any{
		"https://api.openai.com/auth/chatgpt_account_id": "other-workspace",
	})
	recent := time.Now()
	writeAuthFile(t, dir, AuthDotJson{
		Tokens:      &Tokens{AccessToken: "a", RefreshToken: "r", IDToken: idToken},
		LastRefresh: &recent,
	})

	err := EnforceLoginRestrictions(context.Background(), dir, RestrictionConfig{
		ForcedChatGPTWorkspaceID: "expected-workspace",
	}, nil)
	if err == nil {
		t.Fatalf("expected workspace mismatch error")
	}
	if _, statErr := os.Stat(AuthFilePath(dir)); !os.IsNotExist(statErr) {
		t.Fatalf("expected auth.json removed after violation")
	}
}

func TestEnforceLoginRestrictionsAllowsMatchingWorkspace(t *testing.T) {
	dir := t.TempDir()
	idToken := fakeIDToken(t, map[string]any{
		"https://api.openai.com/auth/chatgpt_account_id": "expected-workspace",
	})
	recent := time.Now()
	writeAuthFile(t, dir, AuthDotJson{
		Tokens:      &Tokens{AccessToken: "a", RefreshToken: "r", IDToken: idToken},
		LastRefresh: &recent,
	})

	err := EnforceLoginRestrictions(context.Background(), dir, RestrictionConfig{
		ForcedChatGPTWorkspaceID: "expected-workspace",
	}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, statErr := os.Stat(AuthFilePath(dir)); statErr != nil {
		t.Fatalf("expected auth.json to survive, got %v", statErr)
	}
}

func TestEnforceLoginRestrictionsMethodMismatchLogsOut(t *testing.T) {
	dir := t.TempDir()
	if err := LoginWithAPIKey(dir, "sk-abc"); err != nil {
		t.Fatal(err)
	}

	err := EnforceLoginRestrictions(context.Background(), dir, RestrictionConfig{
		ForcedLoginMethod: ForcedLoginChatGPT,
	}, nil)
	if err == nil {
		t.Fatalf("expected method mismatch error")
	}
	if _, statErr := os.Stat(AuthFilePath(dir)); !os.IsNotExist(statErr) {
		t.Fatalf("expected auth.json removed after method-mismatch violation")
	}
}

func TestManagerReloadDetectsChange(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, false, nil)
	if m.Auth() != nil {
		t.Fatalf("expected no credential initially")
	}

	if err := LoginWithAPIKey(dir, "sk-new"); err != nil {
		t.Fatal(err)
	}
	if changed := m.Reload(); !changed {
		t.Fatalf("expected reload to detect new credential")
	}
	if m.Auth() == nil || m.Auth().APIKey != "sk-new" {
		t.Fatalf("got %+v", m.Auth())
	}
}
