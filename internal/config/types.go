package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// SessionStoreKind selects where per-browser sessions live.
type SessionStoreKind string

const (
	SessionStoreMemory SessionStoreKind = "memory"
	SessionStoreBolt   SessionStoreKind = "bolt"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultAddr              = ":8080"
	DefaultName              = "rnc-front"
	DefaultSessionTTL        = 8 * time.Hour
	DefaultCleanupInterval   = 10 * time.Minute
	DefaultMeURL             = "https://graph.microsoft.com/v1.0/me"
	DefaultResourceScope     = "https://graph.microsoft.com/User.Read"
	DefaultPrompt            = "select_account"
	DefaultAttachmentsBucket = "rnc-anexos"
	DefaultReferenceBucket   = "calculation-view"
	DefaultReferenceObject   = "dados/CV_FILIAL.parquet"
	DefaultReferenceColumn   = "TXTMD_1"
	DefaultReferenceCacheTTL = time.Hour
	DefaultPresignExpiry     = 1
)

// AppConfig holds the HTTP surface and session settings.
type AppConfig struct {
	BaseURL         string           `json:"baseURL"`
	Addr            string           `json:"addr"`
	Name            string           `json:"name"`
	SessionTTL      time.Duration    `json:"sessionTtl"`
	CleanupInterval time.Duration    `json:"cleanupInterval"`
	SessionStore    SessionStoreKind `json:"sessionStore"`
	SessionPath     string           `json:"sessionPath,omitempty"`
	// SecretKey seeds every derived key: state signing, CSRF, session sealing.
	SecretKey Secret `json:"secretKey"`
	// LoginRatePerMinute bounds /login and callback hits per client IP. Zero disables.
	LoginRatePerMinute int `json:"loginRatePerMinute"`
	// TrustProxyHeaders reads the client IP from X-Forwarded-For. Enable
	// only when a reverse proxy in front of rnc-front sets that header.
	TrustProxyHeaders bool `json:"trustProxyHeaders"`
}

// AuthConfig holds the Azure AD application registration.
type AuthConfig struct {
	TenantID         string   `json:"tenantId"`
	ClientID         string   `json:"clientId"`
	ClientSecret     Secret   `json:"clientSecret"`
	RedirectURI      string   `json:"redirectUri"`
	AuthorizationURL string   `json:"authorizationUrl,omitempty"`
	TokenURL         string   `json:"tokenUrl,omitempty"`
	MeURL            string   `json:"meUrl,omitempty"`
	ResourceScope    string   `json:"resourceScope"`
	Scopes           []string `json:"scopes,omitempty"`
	AllowedDomain    string   `json:"allowedDomain"`
	Prompt           string   `json:"prompt,omitempty"`
}

// RequestedScopes returns the full scope list sent on the authorization request.
func (a AuthConfig) RequestedScopes() []string {
	if len(a.Scopes) > 0 {
		return a.Scopes
	}
	return []string{"openid", "email", "profile", a.ResourceScope}
}

// StorageConfig holds the MinIO connection and bucket names.
type StorageConfig struct {
	Endpoint          string `json:"endpoint"`
	AccessKey         Secret `json:"accessKey"`
	SecretKey         Secret `json:"secretKey"`
	Secure            bool   `json:"secure"`
	Region            string `json:"region,omitempty"`
	AttachmentsBucket string `json:"attachmentsBucket"`
	// PresignExpiryHours is the lifetime of attachment download links.
	PresignExpiryHours int `json:"presignExpiryHours"`
}

// DatabaseConfig holds the Supabase Postgres connection.
type DatabaseConfig struct {
	DSN          Secret `json:"dsn"`
	MaxOpenConns int    `json:"maxOpenConns"`
	AutoMigrate  bool   `json:"autoMigrate"`
}

// ReferenceConfig locates the Parquet table that lists branches.
type ReferenceConfig struct {
	Bucket   string        `json:"bucket"`
	Object   string        `json:"object"`
	Column   string        `json:"column"`
	CacheTTL time.Duration `json:"cacheTtl"`
}

// Config represents the config structure with resolved values
type Config struct {
	App       AppConfig       `json:"app"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Database  DatabaseConfig  `json:"database"`
	Reference ReferenceConfig `json:"reference"`
}

// RawConfigValue represents a value that could be a string or an env ref.
// This is only used during parsing, not in the final config
type RawConfigValue struct {
	value string
}

// ParseConfigValue parses a JSON value that could be a string or reference object
func ParseConfigValue(raw json.RawMessage) (*RawConfigValue, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return &RawConfigValue{value: str}, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("config value must be string or reference object")
	}

	if envVar, ok := ref["$env"]; ok {
		value := os.Getenv(envVar)
		if value == "" {
			return nil, fmt.Errorf("environment variable %s not set", envVar)
		}
		// Strip surrounding quotes if present (only matching pairs)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		return &RawConfigValue{value: value}, nil
	}

	return nil, fmt.Errorf("unknown reference type in config value")
}

// Value returns the resolved string.
func (r *RawConfigValue) Value() string {
	return r.value
}
