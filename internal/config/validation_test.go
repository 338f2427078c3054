package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Path+": "+e.Message)
	}
	return out
}

func TestValidateBytes_Sample(t *testing.T) {
	result := ValidateBytes([]byte(sampleConfig))
	assert.True(t, result.IsValid(), "errors: %v", messages(result.Errors))
	assert.Empty(t, result.Warnings)
}

func TestValidateBytes_InvalidJSON(t *testing.T) {
	result := ValidateBytes([]byte(`{"version":`))
	require.False(t, result.IsValid())
	assert.Contains(t, result.Errors[0].Message, "invalid JSON")
}

func TestValidateBytes_MissingSections(t *testing.T) {
	result := ValidateBytes([]byte(`{"version": "rnc-front/v1"}`))
	require.False(t, result.IsValid())

	paths := map[string]bool{}
	for _, e := range result.Errors {
		paths[e.Path] = true
	}
	assert.True(t, paths["app"])
	assert.True(t, paths["auth"])
	assert.True(t, paths["storage"])
	assert.True(t, paths["database"])
}

func TestValidateBytes_PlainSecret(t *testing.T) {
	cfg := `{
  "version": "rnc-front/v1",
  "app": {"baseURL": "https://x", "secretKey": "${RNC_SECRET}"},
  "auth": {"tenantId": "t", "clientId": "c", "clientSecret": "plain", "allowedDomain": "example.com"},
  "storage": {"endpoint": "e", "accessKey": {"$env": "A"}, "secretKey": {"$env": "B"}},
  "database": {"dsn": {"$env": "DSN"}}
}`
	result := ValidateBytes([]byte(cfg))
	require.False(t, result.IsValid())

	var sawBash, sawPlain bool
	for _, e := range result.Errors {
		if e.Path == "app.secretKey" {
			assert.Contains(t, e.Message, "bash-style syntax")
			sawBash = true
		}
		if e.Path == "auth.clientSecret" {
			assert.Contains(t, e.Message, "instead of plain text")
			sawPlain = true
		}
	}
	assert.True(t, sawBash)
	assert.True(t, sawPlain)

	var sawDomainWarning bool
	for _, w := range result.Warnings {
		if w.Path == "auth.allowedDomain" {
			sawDomainWarning = true
		}
	}
	assert.True(t, sawDomainWarning)
}

func TestValidateBytes_BoltNeedsPath(t *testing.T) {
	cfg := `{
  "version": "rnc-front/v1",
  "app": {"baseURL": "https://x", "secretKey": {"$env": "K"}, "sessionStore": "bolt"},
  "auth": {"tenantId": "t", "clientId": "c", "clientSecret": {"$env": "S"}, "allowedDomain": "@example.com"},
  "storage": {"endpoint": "e", "accessKey": {"$env": "A"}, "secretKey": {"$env": "B"}},
  "database": {"dsn": {"$env": "DSN"}}
}`
	result := ValidateBytes([]byte(cfg))
	require.False(t, result.IsValid())
	assert.Equal(t, "app.sessionPath", result.Errors[0].Path)
}

func TestValidateBytes_TrustProxyHeadersMustBeBool(t *testing.T) {
	cfg := `{
  "version": "rnc-front/v1",
  "app": {"baseURL": "https://x", "secretKey": {"$env": "K"}, "trustProxyHeaders": "yes"},
  "auth": {"tenantId": "t", "clientId": "c", "clientSecret": {"$env": "S"}, "allowedDomain": "@example.com"},
  "storage": {"endpoint": "e", "accessKey": {"$env": "A"}, "secretKey": {"$env": "B"}},
  "database": {"dsn": {"$env": "DSN"}}
}`
	result := ValidateBytes([]byte(cfg))
	require.False(t, result.IsValid())
	assert.Equal(t, "app.trustProxyHeaders", result.Errors[0].Path)
}
