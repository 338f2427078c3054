package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		paths []string
		want  string
	}{
		{"tenant issuer", "https://login.microsoftonline.com", []string{"contoso", "v2.0"}, "https://login.microsoftonline.com/contoso/v2.0"},
		{"authority with trailing slash", "https://login.microsoftonline.com/", []string{"contoso", "v2.0"}, "https://login.microsoftonline.com/contoso/v2.0"},
		{"base with path", "http://127.0.0.1:4000/idp", []string{"tenant", "v2.0"}, "http://127.0.0.1:4000/idp/tenant/v2.0"},
		{"trailing slash preserved", "https://rnc.example.com", []string{"records/"}, "https://rnc.example.com/records/"},
		{"no segments", "https://rnc.example.com", nil, "https://rnc.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := JoinPath("://invalid", "v2.0")
	assert.Error(t, err)
}

func TestIsLocalPath(t *testing.T) {
	for raw, want := range map[string]bool{
		"/":                     true,
		"/records?q=abc":        true,
		"/records/7/edit":       true,
		"":                      false,
		"records":               false,
		"//evil.example":        false,
		"/\\evil.example":       false,
		"https://evil.example/": false,
	} {
		assert.Equal(t, want, IsLocalPath(raw), raw)
	}
}
