package idp

import (
	"context"

	"golang.org/x/oauth2"
)

// UserInfo is the resolved identity of the signed-in user.
type UserInfo struct {
	ProviderType string `json:"provider_type"`
	Subject      string `json:"sub"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Username     string `json:"username"`
}

// Provider abstracts identity provider operations.
type Provider interface {
	// Type returns the provider type identifier (e.g. "azure").
	Type() string

	// AuthURL builds the authorization URL carrying state and the PKCE
	// challenge derived from verifier.
	AuthURL(state, verifier string) string

	// ExchangeCode trades an authorization code for a token.
	// Failures are *ExchangeError.
	ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error)

	// UserInfo fetches the profile for token without refreshing it.
	// Any non-success answer wraps ErrNotAuthenticated.
	UserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error)
}

// GrantedScopes returns the scopes echoed by the token endpoint, or nil when
// the response carried none.
func GrantedScopes(token *oauth2.Token) []string {
	if token == nil {
		return nil
	}
	raw, _ := token.Extra("scope").(string)
	if raw == "" {
		return nil
	}
	return splitScopes(raw)
}
