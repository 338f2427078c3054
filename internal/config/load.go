package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dellavolpe/rnc-front/internal/log"
)

// ConfigVersion is the only accepted value of the top-level "version" field.
const ConfigVersion = "rnc-front/v1"

// secretFields lists section/field pairs that must be env references.
var secretFields = []struct {
	section string
	field   string
}{
	{"app", "secretKey"},
	{"auth", "clientSecret"},
	{"storage", "accessKey"},
	{"storage", "secretKey"},
	{"database", "dsn"},
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes, resolves env references, fills defaults and validates.
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != ConfigVersion {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig rejects secrets written inline before any env lookup happens
func validateRawConfig(rawConfig map[string]any) error {
	for _, s := range secretFields {
		section, ok := rawConfig[s.section].(map[string]any)
		if !ok {
			continue
		}
		value, exists := section[s.field]
		if !exists {
			continue
		}
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s.%s must use environment variable reference for security", s.section, s.field)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", s.section, s.field)
			}
		}
	}
	return nil
}

// ApplyDefaults fills every optional field left empty.
func ApplyDefaults(c *Config) {
	if c.App.Addr == "" {
		c.App.Addr = DefaultAddr
	}
	if c.App.Name == "" {
		c.App.Name = DefaultName
	}
	if c.App.SessionTTL == 0 {
		c.App.SessionTTL = DefaultSessionTTL
	}
	if c.App.CleanupInterval == 0 {
		c.App.CleanupInterval = DefaultCleanupInterval
	}
	if c.App.SessionStore == "" {
		c.App.SessionStore = SessionStoreMemory
	}
	if c.Auth.MeURL == "" {
		c.Auth.MeURL = DefaultMeURL
	}
	if c.Auth.ResourceScope == "" {
		c.Auth.ResourceScope = DefaultResourceScope
	}
	if c.Auth.Prompt == "" {
		c.Auth.Prompt = DefaultPrompt
	}
	if c.Auth.RedirectURI == "" && c.App.BaseURL != "" {
		c.Auth.RedirectURI = strings.TrimRight(c.App.BaseURL, "/") + "/"
	}
	if c.Storage.AttachmentsBucket == "" {
		c.Storage.AttachmentsBucket = DefaultAttachmentsBucket
	}
	if c.Storage.PresignExpiryHours == 0 {
		c.Storage.PresignExpiryHours = DefaultPresignExpiry
	}
	if c.Reference.Bucket == "" {
		c.Reference.Bucket = DefaultReferenceBucket
	}
	if c.Reference.Object == "" {
		c.Reference.Object = DefaultReferenceObject
	}
	if c.Reference.Column == "" {
		c.Reference.Column = DefaultReferenceColumn
	}
	if c.Reference.CacheTTL == 0 {
		c.Reference.CacheTTL = DefaultReferenceCacheTTL
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.App.BaseURL == "" {
		return fmt.Errorf("app.baseURL is required")
	}
	if _, err := url.ParseRequestURI(config.App.BaseURL); err != nil {
		return fmt.Errorf("app.baseURL is not a valid URL: %w", err)
	}
	if config.App.Addr == "" {
		return fmt.Errorf("app.addr is required")
	}
	if len(config.App.SecretKey) < 32 {
		return fmt.Errorf("app.secretKey must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(config.App.SecretKey))
	}
	if config.App.SessionTTL < 0 {
		return fmt.Errorf("app.sessionTtl cannot be negative")
	}
	if config.App.CleanupInterval < 0 {
		return fmt.Errorf("app.cleanupInterval cannot be negative")
	}
	if config.App.CleanupInterval > config.App.SessionTTL {
		log.LogWarn("Session cleanup interval is greater than session TTL")
	}
	switch config.App.SessionStore {
	case SessionStoreMemory:
	case SessionStoreBolt:
		if config.App.SessionPath == "" {
			return fmt.Errorf("app.sessionPath is required when using bolt session store")
		}
	default:
		return fmt.Errorf("app.sessionStore must be %q or %q, got %q", SessionStoreMemory, SessionStoreBolt, config.App.SessionStore)
	}
	if config.App.LoginRatePerMinute < 0 {
		return fmt.Errorf("app.loginRatePerMinute cannot be negative")
	}

	if err := validateAuthConfig(&config.Auth); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := validateStorageConfig(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if config.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.maxOpenConns cannot be negative")
	}
	return nil
}

func validateAuthConfig(auth *AuthConfig) error {
	if auth.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if auth.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	if auth.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}
	if auth.TenantID == "" && (auth.AuthorizationURL == "" || auth.TokenURL == "") {
		return fmt.Errorf("either tenantId or both authorizationUrl and tokenUrl are required")
	}
	if auth.AllowedDomain == "" {
		return fmt.Errorf("allowedDomain is required")
	}
	if !strings.HasPrefix(auth.AllowedDomain, "@") {
		log.LogWarnWithFields("config", "allowedDomain has no leading @, matching on the full domain", map[string]any{
			"allowedDomain": auth.AllowedDomain,
		})
	}
	return nil
}

func validateStorageConfig(s *StorageConfig) error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if s.AccessKey == "" || s.SecretKey == "" {
		return fmt.Errorf("accessKey and secretKey are required")
	}
	if s.PresignExpiryHours < 1 || s.PresignExpiryHours > 168 {
		return fmt.Errorf("presignExpiryHours must be between 1 and 168, got %d", s.PresignExpiryHours)
	}
	return nil
}
