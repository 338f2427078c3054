package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// resolveString resolves a plain string or {"$env": "VAR"} reference.
// A nil raw value yields the empty string.
func resolveString(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	parsed, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return parsed.value, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}

// UnmarshalJSON implements custom unmarshaling for AppConfig
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type rawApp struct {
		BaseURL            json.RawMessage  `json:"baseURL"`
		Addr               string           `json:"addr"`
		Name               string           `json:"name"`
		SessionTTL         string           `json:"sessionTtl"`
		CleanupInterval    string           `json:"cleanupInterval"`
		SessionStore       SessionStoreKind `json:"sessionStore"`
		SessionPath        json.RawMessage  `json:"sessionPath"`
		SecretKey          json.RawMessage  `json:"secretKey"`
		LoginRatePerMinute int              `json:"loginRatePerMinute"`
		TrustProxyHeaders  bool             `json:"trustProxyHeaders"`
	}

	var raw rawApp
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Addr = raw.Addr
	a.Name = raw.Name
	a.SessionStore = raw.SessionStore
	a.LoginRatePerMinute = raw.LoginRatePerMinute
	a.TrustProxyHeaders = raw.TrustProxyHeaders

	var err error
	if a.BaseURL, err = resolveString(raw.BaseURL, "baseURL"); err != nil {
		return err
	}
	if a.SessionPath, err = resolveString(raw.SessionPath, "sessionPath"); err != nil {
		return err
	}
	if a.SessionTTL, err = parseDuration(raw.SessionTTL, "sessionTtl"); err != nil {
		return err
	}
	if a.CleanupInterval, err = parseDuration(raw.CleanupInterval, "cleanupInterval"); err != nil {
		return err
	}

	secret, err := resolveString(raw.SecretKey, "secretKey")
	if err != nil {
		return err
	}
	a.SecretKey = Secret(secret)

	return nil
}

// UnmarshalJSON implements custom unmarshaling for AuthConfig
func (o *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		TenantID         json.RawMessage `json:"tenantId"`
		ClientID         json.RawMessage `json:"clientId"`
		ClientSecret     json.RawMessage `json:"clientSecret"`
		RedirectURI      json.RawMessage `json:"redirectUri"`
		AuthorizationURL string          `json:"authorizationUrl"`
		TokenURL         string          `json:"tokenUrl"`
		MeURL            string          `json:"meUrl"`
		ResourceScope    string          `json:"resourceScope"`
		Scopes           []string        `json:"scopes"`
		AllowedDomain    string          `json:"allowedDomain"`
		Prompt           string          `json:"prompt"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	o.AuthorizationURL = raw.AuthorizationURL
	o.TokenURL = raw.TokenURL
	o.MeURL = raw.MeURL
	o.ResourceScope = raw.ResourceScope
	o.Scopes = raw.Scopes
	o.AllowedDomain = raw.AllowedDomain
	o.Prompt = raw.Prompt

	var err error
	if o.TenantID, err = resolveString(raw.TenantID, "tenantId"); err != nil {
		return err
	}
	if o.ClientID, err = resolveString(raw.ClientID, "clientId"); err != nil {
		return err
	}
	if o.RedirectURI, err = resolveString(raw.RedirectURI, "redirectUri"); err != nil {
		return err
	}

	secret, err := resolveString(raw.ClientSecret, "clientSecret")
	if err != nil {
		return err
	}
	o.ClientSecret = Secret(secret)

	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	type rawStorage struct {
		Endpoint           json.RawMessage `json:"endpoint"`
		AccessKey          json.RawMessage `json:"accessKey"`
		SecretKey          json.RawMessage `json:"secretKey"`
		Secure             bool            `json:"secure"`
		Region             string          `json:"region"`
		AttachmentsBucket  string          `json:"attachmentsBucket"`
		PresignExpiryHours int             `json:"presignExpiryHours"`
	}

	var raw rawStorage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Secure = raw.Secure
	s.Region = raw.Region
	s.AttachmentsBucket = raw.AttachmentsBucket
	s.PresignExpiryHours = raw.PresignExpiryHours

	var err error
	if s.Endpoint, err = resolveString(raw.Endpoint, "endpoint"); err != nil {
		return err
	}

	access, err := resolveString(raw.AccessKey, "accessKey")
	if err != nil {
		return err
	}
	s.AccessKey = Secret(access)

	secret, err := resolveString(raw.SecretKey, "secretKey")
	if err != nil {
		return err
	}
	s.SecretKey = Secret(secret)

	return nil
}

// UnmarshalJSON implements custom unmarshaling for DatabaseConfig
func (d *DatabaseConfig) UnmarshalJSON(data []byte) error {
	type rawDatabase struct {
		DSN          json.RawMessage `json:"dsn"`
		MaxOpenConns int             `json:"maxOpenConns"`
		AutoMigrate  bool            `json:"autoMigrate"`
	}

	var raw rawDatabase
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.MaxOpenConns = raw.MaxOpenConns
	d.AutoMigrate = raw.AutoMigrate

	dsn, err := resolveString(raw.DSN, "dsn")
	if err != nil {
		return err
	}
	d.DSN = Secret(dsn)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for ReferenceConfig
func (r *ReferenceConfig) UnmarshalJSON(data []byte) error {
	type rawReference struct {
		Bucket   string `json:"bucket"`
		Object   string `json:"object"`
		Column   string `json:"column"`
		CacheTTL string `json:"cacheTtl"`
	}

	var raw rawReference
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Bucket = raw.Bucket
	r.Object = raw.Object
	r.Column = raw.Column

	var err error
	r.CacheTTL, err = parseDuration(raw.CacheTTL, "cacheTtl")
	return err
}
