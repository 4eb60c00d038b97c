// Package auth manages the cached OpenAI/ChatGPT credential
// (auth.json): loading it, refreshing an expired access token, and
// enforcing workspace/login-method restrictions from config.
//
// Grounded on codex-rs/core/src/auth.rs (CodexAuth::get_token_data's
// 28-day refresh window and 60s refresh timeout,
// enforce_login_restrictions's forced-login-method and
// forced-workspace-id checks, logout deleting auth.json) and on the
// teacher's internal/auth/store.go (atomic 0600 writes, os.IsNotExist
// handling).
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Mode is the authentication method in effect.
type Mode int

const (
	ModeAPIKey Mode = iota
	ModeChatGPT
)

func (m Mode) String() string {
	if m == ModeChatGPT {
		return "chatgpt"
	}
	return "apikey"
}

// Tokens is the OAuth token set cached in auth.json.
type Tokens struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id,omitempty"`
}

// AuthDotJson is the full on-disk shape of auth.json.
type AuthDotJson struct {
	OpenAIAPIKey *string    `json:"openai_api_key,omitempty"`
	Tokens       *Tokens    `json:"tokens,omitempty"`
	LastRefresh  *time.Time `json:"last_refresh,omitempty"`
}

// IDTokenClaims are the workspace/account claims this component reads
// out of the cached id_token locally, without a network round trip —
// the Go equivalent of parse_id_token.
type IDTokenClaims struct {
	Email            string `json:"email"`
	ChatGPTAccountID string `json:"chatgpt_account_id"`
	ChatGPTPlanType  string `json:"chatgpt_plan_type"`
}

type idTokenMapClaims map[string]any

func (idTokenMapClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (idTokenMapClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (idTokenMapClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (idTokenMapClaims) GetIssuer() (string, error)                  { return "", nil }
func (idTokenMapClaims) GetSubject() (string, error)                 { return "", nil }
func (idTokenMapClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// ParseIDTokenClaims decodes idToken's claims without verifying the
// signature — the cached token was already validated at login time;
// this is a local read of its payload, mirroring parse_id_token.
func ParseIDTokenClaims(idToken string) (IDTokenClaims, error) {
	claims := idTokenMapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return IDTokenClaims{}, fmt.Errorf("parse id_token: %w", err)
	}
	out := IDTokenClaims{}
	if v, ok := claims["email"].(string); ok {
		out.Email = v
	}
	if v, ok := claims["https://api.openai.com/auth/chatgpt_account_id"].(string); ok {
		out.ChatGPTAccountID = v
	}
	if v, ok := claims["https://api.openai.com/auth/chatgpt_plan_type"].(string); ok {
		out.ChatGPTPlanType = v
	}
	return out, nil
}

const refreshWindow = 28 * 24 * time.Hour
const refreshTimeout = 60 * time.Second

// TokenRefresher performs the OAuth refresh-token exchange. Production
// wiring supplies an HTTP-backed implementation; tests supply a fake.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// Auth is the loaded credential for one CODE_HOME.
type Auth struct {
	Mode   Mode
	APIKey string // ModeAPIKey

	file      string
	refresher TokenRefresher

	mu   sync.Mutex
	data AuthDotJson // ModeChatGPT
}

// FromAPIKey builds an in-memory API-key credential with no backing
// file (used for OPENAI_API_KEY/CODEX_API_KEY env overrides).
func FromAPIKey(apiKey string) *Auth {
	return &Auth{Mode: ModeAPIKey, APIKey: apiKey}
}

// AuthFilePath returns codeHome/auth.json.
func AuthFilePath(codeHome string) string {
	return filepath.Join(codeHome, "auth.json")
}

// Load reads auth.json from codeHome, preferring an API key entry if
// present, matching load_auth (sans the env-var short-circuit, handled
// by the caller per read_openai_api_key_from_env /
// read_codex_api_key_from_env). Returns nil, nil if no credential is
// cached.
func Load(codeHome string, refresher TokenRefresher) (*Auth, error) {
	path := AuthFilePath(codeHome)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read auth.json: %w", err)
	}

	var doc AuthDotJson
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse auth.json: %w", err)
	}

	if doc.OpenAIAPIKey != nil {
		return &Auth{Mode: ModeAPIKey, APIKey: *doc.OpenAIAPIKey, file: path}, nil
	}

	return &Auth{Mode: ModeChatGPT, file: path, refresher: refresher, data: doc}, nil
}

// ReadAPIKeyFromEnv reads varName, trims it, and returns ok=false if
// unset or blank, matching read_openai_api_key_from_env /
// read_codex_api_key_from_env.
func ReadAPIKeyFromEnv(varName string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(varName))
	return value, value != ""
}

// GetTokenData returns the current access/refresh tokens, refreshing
// first if last_refresh is more than 28 days old, matching
// CodexAuth::get_token_data.
func (a *Auth) GetTokenData(ctx context.Context) (Tokens, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.data.Tokens == nil || a.data.LastRefresh == nil {
		return Tokens{}, fmt.Errorf("auth: token data is not available")
	}

	if a.data.LastRefresh.Before(time.Now().Add(-refreshWindow)) {
		if a.refresher == nil {
			return Tokens{}, fmt.Errorf("auth: token refresh required but no refresher configured")
		}
		refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		refreshed, err := a.refresher.Refresh(refreshCtx, a.data.Tokens.RefreshToken)
		if err != nil {
			return Tokens{}, fmt.Errorf("auth: refresh token: %w", err)
		}
		now := time.Now()
		a.data.Tokens = &refreshed
		a.data.LastRefresh = &now
		if a.file != "" {
			if err := writeAuthJSON(a.file, a.data); err != nil {
				return Tokens{}, err
			}
		}
	}

	return *a.data.Tokens, nil
}

// GetToken returns the bearer token to send: the API key verbatim in
// ModeAPIKey, or the refreshed access token in ModeChatGPT, matching
// CodexAuth::get_token.
func (a *Auth) GetToken(ctx context.Context) (string, error) {
	if a.Mode == ModeAPIKey {
		return a.APIKey, nil
	}
	tokens, err := a.GetTokenData(ctx)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// AccountID returns the cached account id, if any.
func (a *Auth) AccountID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data.Tokens == nil {
		return ""
	}
	return a.data.Tokens.AccountID
}

func writeAuthJSON(path string, doc AuthDotJson) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth.json: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write auth.json: %w", err)
	}
	return os.Rename(tmp, path)
}

// Logout deletes auth.json, reporting whether a file was actually
// removed, matching logout.
func Logout(codeHome string) (bool, error) {
	err := os.Remove(AuthFilePath(codeHome))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete auth.json: %w", err)
	}
	return true, nil
}

// LoginWithAPIKey writes an auth.json containing only apiKey, matching
// login_with_api_key.
func LoginWithAPIKey(codeHome, apiKey string) error {
	doc := AuthDotJson{OpenAIAPIKey: &apiKey}
	return writeAuthJSON(AuthFilePath(codeHome), doc)
}

// ForcedLoginMethod mirrors ForcedLoginMethod's two enforceable values.
type ForcedLoginMethod int

const (
	ForcedLoginNone ForcedLoginMethod = iota
	ForcedLoginAPI
	ForcedLoginChatGPT
)

// RestrictionConfig is the subset of Config enforce_login_restrictions
// consults.
type RestrictionConfig struct {
	ForcedLoginMethod        ForcedLoginMethod
	ForcedChatGPTWorkspaceID string // empty means unset
}

// EnforceLoginRestrictions checks the cached credential against cfg and
// logs out (deleting auth.json) on any violation, matching
// enforce_login_restrictions. A nil error with no prior credential
// means there was nothing to enforce.
func EnforceLoginRestrictions(ctx context.Context, codeHome string, cfg RestrictionConfig, refresher TokenRefresher) error {
	a, err := Load(codeHome, refresher)
	if err != nil {
		return err
	}
	if a == nil {
		return nil
	}

	if cfg.ForcedLoginMethod != ForcedLoginNone {
		violation := ""
		switch {
		case cfg.ForcedLoginMethod == ForcedLoginAPI && a.Mode == ModeChatGPT:
			violation = "API key login is required, but ChatGPT is currently being used. Logging out."
		case cfg.ForcedLoginMethod == ForcedLoginChatGPT && a.Mode == ModeAPIKey:
			violation = "ChatGPT login is required, but an API key is currently being used. Logging out."
		}
		if violation != "" {
			return logoutWithMessage(codeHome, violation)
		}
	}

	if cfg.ForcedChatGPTWorkspaceID != "" {
		if a.Mode != ModeChatGPT {
			return nil
		}
		tokens, err := a.GetTokenData(ctx)
		if err != nil {
			return logoutWithMessage(codeHome, fmt.Sprintf(
				"Failed to load ChatGPT credentials while enforcing workspace restrictions: %v. Logging out.", err))
		}
		claims, claimErr := ParseIDTokenClaims(tokens.IDToken)
		actual := ""
		if claimErr == nil {
			actual = claims.ChatGPTAccountID
		}
		if actual != cfg.ForcedChatGPTWorkspaceID {
			var message string
			if actual != "" {
				message = fmt.Sprintf("Login is restricted to workspace %s, but current credentials belong to %s. Logging out.",
					cfg.ForcedChatGPTWorkspaceID, actual)
			} else {
				message = fmt.Sprintf("Login is restricted to workspace %s, but current credentials lack a workspace identifier. Logging out.",
					cfg.ForcedChatGPTWorkspaceID)
			}
			return logoutWithMessage(codeHome, message)
		}
	}

	return nil
}

func logoutWithMessage(codeHome, message string) error {
	if _, err := Logout(codeHome); err != nil {
		return fmt.Errorf("%s. Failed to remove auth.json: %w", message, err)
	}
	return fmt.Errorf("%s", message)
}
