package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"
	"golang.org/x/oauth2"

	"github.com/dellavolpe/rnc-front/internal/idp"
)

// MockProvider is a testify mock of idp.Provider.
type MockProvider struct {
	mock.Mock
}

var _ idp.Provider = (*MockProvider)(nil)

func (m *MockProvider) Type() string {
	return "mock"
}

func (m *MockProvider) AuthURL(state, verifier string) string {
	args := m.Called(state, verifier)
	return args.String(0)
}

func (m *MockProvider) ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	args := m.Called(ctx, code, verifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oauth2.Token), args.Error(1)
}

func (m *MockProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*idp.UserInfo, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.UserInfo), args.Error(1)
}
