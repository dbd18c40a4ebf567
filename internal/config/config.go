package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Backend     BackendConfig     `json:"backend"`
	Identity    IdentityConfig    `json:"identity"`
	Attachments AttachmentsConfig `json:"attachments"`
	Timeouts    TimeoutsConfig    `json:"timeouts"`
	Channels    ChannelsConfig    `json:"channels"`
	Audit       AuditConfig       `json:"audit"`
	Metrics     MetricsConfig     `json:"metrics"`
	Planner     PlannerConfig     `json:"planner,omitempty"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	BusBufferSize         int    `json:"busBufferSize"`
}

// BackendConfig points at the query backend. The URL includes the /query path.
type BackendConfig struct {
	URL string `json:"url"`
}

// IdentityConfig holds the client-credential material for token acquisition.
type IdentityConfig struct {
	TenantID      string `json:"tenantId"`
	ClientID      string `json:"clientId"`
	ClientSecret  string `json:"clientSecret"`
	AuthorityHost string `json:"authorityHost"`
	GraphScope    string `json:"graphScope"`
	BotScope      string `json:"botScope"`
}

// Complete reports whether all credential fields are set.
func (c IdentityConfig) Complete() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

type AttachmentsConfig struct {
	TempDir      string `json:"tempDir,omitempty"` // empty = os.TempDir()
	MaxSizeBytes int64  `json:"maxSizeBytes"`
}

// TimeoutsConfig bounds every external call of the dispatch pipeline.
type TimeoutsConfig struct {
	TokenSeconds      int `json:"tokenSeconds"`
	DownloadSeconds   int `json:"downloadSeconds"`
	ExtractionSeconds int `json:"extractionSeconds"`
	BackendSeconds    int `json:"backendSeconds"`
	ReplySeconds      int `json:"replySeconds"`
}

type ChannelsConfig struct {
	Bot      BotConfig      `json:"bot"`
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

// BotConfig configures the Bot Framework activity endpoint.
type BotConfig struct {
	Enabled       bool   `json:"enabled"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Path          string `json:"path"`
	Secret        string `json:"secret,omitempty"` // optional HMAC secret for X-Signature-256
	ConnectorAuth bool   `json:"connectorAuth"`    // false for the local emulator
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// AuditConfig configures the exchange ledger. Only metadata is stored.
type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// PlannerConfig carries the AI-model deployment settings of the chat planner.
// relaybot does not call the model itself; the values are validated and masked
// so one config file can serve both.
type PlannerConfig struct {
	AzureOpenAIKey            string `json:"azureOpenAIKey,omitempty"`
	AzureOpenAIEndpoint       string `json:"azureOpenAIEndpoint,omitempty"`
	AzureOpenAIDeploymentName string `json:"azureOpenAIDeploymentName,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file, applies env fallbacks and validates it.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.Attachments.TempDir = ExpandPath(cfg.Attachments.TempDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON decodes YAML into generic values and re-encodes them as JSON so a
// single set of json tags drives both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// envFallbacks maps empty config fields to the environment variables the
// legacy deployments set.
var envFallbacks = []struct {
	name  string
	field func(*Config) *string
}{
	{"TENANT_ID", func(c *Config) *string { return &c.Identity.TenantID }},
	{"CLIENT_ID", func(c *Config) *string { return &c.Identity.ClientID }},
	{"CLIENT_SECRET", func(c *Config) *string { return &c.Identity.ClientSecret }},
	{"RELAYBOT_BACKEND_URL", func(c *Config) *string { return &c.Backend.URL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) *string { return &c.Planner.AzureOpenAIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) *string { return &c.Planner.AzureOpenAIEndpoint }},
	{"AZURE_OPENAI_DEPLOYMENT_NAME", func(c *Config) *string { return &c.Planner.AzureOpenAIDeploymentName }},
}

// ApplyEnv fills unset credential and endpoint fields from the environment.
// RELAYBOT_BACKEND_URL overrides the backend URL even when the file sets one.
func ApplyEnv(cfg *Config) {
	for _, fb := range envFallbacks {
		val, ok := os.LookupEnv(fb.name)
		if !ok || val == "" {
			continue
		}
		field := fb.field(cfg)
		if *field == "" || fb.name == "RELAYBOT_BACKEND_URL" {
			*field = val
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = marshalYAML(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Credentials live in this file.
	return os.WriteFile(path, data, 0o600)
}

func marshalYAML(cfg *Config) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return yaml.Marshal(m)
}

// Validate checks that the config has valid values. It reports every problem
// at once so a bad deployment fails at startup rather than per message.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.BusBufferSize < 1 {
		errs = append(errs, "general.busBufferSize must be >= 1")
	}

	if err := validateHTTPURL(cfg.Backend.URL); err != nil {
		errs = append(errs, fmt.Sprintf("backend.url: %v", err))
	}
	if err := validateHTTPURL(cfg.Identity.AuthorityHost); err != nil {
		errs = append(errs, fmt.Sprintf("identity.authorityHost: %v", err))
	}
	if cfg.Identity.GraphScope == "" {
		errs = append(errs, "identity.graphScope is required")
	}
	if cfg.Identity.BotScope == "" {
		errs = append(errs, "identity.botScope is required")
	}

	if cfg.Attachments.MaxSizeBytes < 1 {
		errs = append(errs, "attachments.maxSizeBytes must be >= 1")
	}

	for name, secs := range map[string]int{
		"timeouts.tokenSeconds":      cfg.Timeouts.TokenSeconds,
		"timeouts.downloadSeconds":   cfg.Timeouts.DownloadSeconds,
		"timeouts.extractionSeconds": cfg.Timeouts.ExtractionSeconds,
		"timeouts.backendSeconds":    cfg.Timeouts.BackendSeconds,
		"timeouts.replySeconds":      cfg.Timeouts.ReplySeconds,
	} {
		if secs < 1 {
			errs = append(errs, name+" must be >= 1")
		}
	}

	bot := cfg.Channels.Bot
	if bot.Port < 0 || bot.Port > 65535 {
		errs = append(errs, "channels.bot.port must be between 0 and 65535")
	}
	if bot.Enabled && !strings.HasPrefix(bot.Path, "/") {
		errs = append(errs, "channels.bot.path must start with /")
	}
	if bot.Enabled && bot.ConnectorAuth && !cfg.Identity.Complete() {
		errs = append(errs, "identity.tenantId, identity.clientId and identity.clientSecret are required when channels.bot.connectorAuth is on")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}
	if cfg.Planner.AzureOpenAIEndpoint != "" {
		if err := validateHTTPURL(cfg.Planner.AzureOpenAIEndpoint); err != nil {
			errs = append(errs, fmt.Sprintf("planner.azureOpenAIEndpoint: %v", err))
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (want http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
