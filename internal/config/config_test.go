package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validConfig returns defaults with identity credentials filled in, which the
// default bot channel requires.
func validConfig() *Config {
	cfg := Defaults()
	cfg.Identity.TenantID = "tenant"
	cfg.Identity.ClientID = "client"
	cfg.Identity.ClientSecret = "super-secret-value"
	return cfg
}

// clearIdentityEnv keeps the host environment out of Load tests.
func clearIdentityEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"TENANT_ID", "CLIENT_ID", "CLIENT_SECRET", "RELAYBOT_BACKEND_URL"} {
		t.Setenv(name, "")
	}
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsNeedCredentials(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("expected error: bot channel with connector auth needs credentials")
	}
	if !strings.Contains(err.Error(), "identity.tenantId") {
		t.Fatalf("error should name the identity fields: %v", err)
	}
}

func TestValidate_EmulatorModeNeedsNoCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Bot.ConnectorAuth = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("emulator mode should validate without credentials: %v", err)
	}
}

func TestValidate_BackendURL(t *testing.T) {
	for _, bad := range []string{"", "127.0.0.1:8000/query", "ftp://host/query", "http:///query"} {
		cfg := validConfig()
		cfg.Backend.URL = bad
		if err := Validate(cfg); err == nil {
			t.Fatalf("expected error for backend url %q", bad)
		}
	}

	cfg := validConfig()
	cfg.Backend.URL = "https://backend.internal:8443/query"
	if err := Validate(cfg); err != nil {
		t.Fatalf("https backend should be valid: %v", err)
	}
}

func TestValidate_MaxConcurrentMessages_Boundary(t *testing.T) {
	cfg := validConfig()
	cfg.General.MaxConcurrentMessages = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentMessages=0")
	}

	cfg.General.MaxConcurrentMessages = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentMessages=1 should be valid: %v", err)
	}

	cfg.General.MaxConcurrentMessages = 100
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentMessages=100 should be valid: %v", err)
	}
}

func TestValidate_Timeouts(t *testing.T) {
	cfg := validConfig()
	cfg.Timeouts.DownloadSeconds = 0
	cfg.Timeouts.BackendSeconds = -1
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for zero timeouts")
	}
	for _, field := range []string{"timeouts.downloadSeconds", "timeouts.backendSeconds"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error should mention %s: %v", field, err)
		}
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Bot.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Channels.Bot.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	clearIdentityEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	original := validConfig()
	original.Backend.URL = "http://backend:9000/query"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config holds credentials, expected 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Backend.URL != "http://backend:9000/query" {
		t.Fatalf("expected backend url to survive round trip, got %q", loaded.Backend.URL)
	}
	if loaded.Identity.ClientSecret != "super-secret-value" {
		t.Fatal("client secret lost in round trip")
	}
}

func TestLoadSave_YAMLRoundTrip(t *testing.T) {
	clearIdentityEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := validConfig()
	original.Timeouts.BackendSeconds = 42
	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Timeouts.BackendSeconds != 42 {
		t.Fatalf("expected 42, got %d", loaded.Timeouts.BackendSeconds)
	}
}

func TestLoad_YAMLPartialKeepsDefaults(t *testing.T) {
	clearIdentityEnv(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
identity:
  tenantId: t1
  clientId: c1
  clientSecret: s1
backend:
  url: http://10.0.0.5:8000/query
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.URL != "http://10.0.0.5:8000/query" {
		t.Fatalf("unexpected backend url %q", cfg.Backend.URL)
	}
	if cfg.Channels.Bot.Path != "/api/messages" {
		t.Fatalf("expected default bot path, got %q", cfg.Channels.Bot.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_FailsFastOnBadBackend(t *testing.T) {
	clearIdentityEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"backend": {"url": "not a url"}, "channels": {"bot": {"connectorAuth": false}}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "backend.url") {
		t.Fatalf("expected backend.url validation error, got %v", err)
	}
}

func TestLoad_EnvFallbacks(t *testing.T) {
	t.Setenv("TENANT_ID", "env-tenant")
	t.Setenv("CLIENT_ID", "env-client")
	t.Setenv("CLIENT_SECRET", "env-secret")
	t.Setenv("RELAYBOT_BACKEND_URL", "http://override:8000/query")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"identity": {"clientId": "file-client"}, "backend": {"url": "http://file:8000/query"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Identity.TenantID != "env-tenant" || cfg.Identity.ClientSecret != "env-secret" {
		t.Fatalf("env fallbacks not applied: %+v", cfg.Identity)
	}
	if cfg.Identity.ClientID != "file-client" {
		t.Fatalf("file value should win over CLIENT_ID, got %q", cfg.Identity.ClientID)
	}
	if cfg.Backend.URL != "http://override:8000/query" {
		t.Fatalf("RELAYBOT_BACKEND_URL should override, got %q", cfg.Backend.URL)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	clearIdentityEnv(t)
	t.Setenv("TEST_RELAY_SECRET", "from-env")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"identity": {"tenantId": "t", "clientId": "c", "clientSecret": "${TEST_RELAY_SECRET}"},
		"backend": {"url": "${TEST_RELAY_BACKEND:-http://127.0.0.1:8000/query}"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Identity.ClientSecret != "from-env" {
		t.Fatalf("expected secret from env, got %q", cfg.Identity.ClientSecret)
	}
	if cfg.Backend.URL != "http://127.0.0.1:8000/query" {
		t.Fatalf("expected default backend url, got %q", cfg.Backend.URL)
	}
}

// --- Accessors ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := validConfig()
	val, err := GetByPath(cfg, "backend.url")
	if err != nil {
		t.Fatal(err)
	}
	if val != "http://127.0.0.1:8000/query" {
		t.Fatalf("unexpected value %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(validConfig(), "backend.nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "timeouts.backendSeconds", "5"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "audit.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if cfg.Timeouts.BackendSeconds != 5 {
		t.Fatalf("expected 5, got %d", cfg.Timeouts.BackendSeconds)
	}
	if !cfg.Audit.Enabled {
		t.Fatal("expected audit enabled")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Telegram.Token = "123456789:ABCDEFGHIJKLMNOP"
	cfg.Channels.Bot.Secret = "hmac"
	cfg.Planner.AzureOpenAIKey = "short"

	s := Sanitize(cfg)
	if s.Identity.ClientSecret != "supe****alue" {
		t.Fatalf("client secret not masked: %q", s.Identity.ClientSecret)
	}
	if s.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token not masked")
	}
	if s.Channels.Bot.Secret != "***" || s.Planner.AzureOpenAIKey != "***" {
		t.Fatalf("short secrets should be fully masked: %q %q", s.Channels.Bot.Secret, s.Planner.AzureOpenAIKey)
	}
	if cfg.Identity.ClientSecret != "super-secret-value" {
		t.Fatal("Sanitize must not modify the original")
	}
}

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(validConfig())
	for _, p := range []string{"backend.url", "identity.graphScope", "channels.bot.port"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("missing path %s", p)
		}
	}
}

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_PureStrings(t *testing.T) {
	input := `["a", "b", "c"]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 3 || list[0] != "a" {
		t.Fatalf("unexpected: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	// Ensure the var is unset
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "3000")
	result := ExpandEnvVars(`"${HOST}:${PORT}"`)
	expected := `"localhost:3000"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := `{"key": "value", "number": 42}`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}
