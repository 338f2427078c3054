package idp_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dellavolpe/rnc-front/internal/idp"
	"github.com/dellavolpe/rnc-front/internal/testutil"
)

func TestResolver_Resolve(t *testing.T) {
	token := &oauth2.Token{AccessToken: "t"}

	tests := []struct {
		name       string
		info       *idp.UserInfo
		err        error
		wantErr    error
		wantEmail  string
		wantDomain bool
	}{
		{
			name:      "allowed",
			info:      &idp.UserInfo{Email: "ana@dellavolpe.com.br"},
			wantEmail: "ana@dellavolpe.com.br",
		},
		{
			name:      "allowed mixed case",
			info:      &idp.UserInfo{Email: "Ana@DellaVolpe.com.BR"},
			wantEmail: "Ana@DellaVolpe.com.BR",
		},
		{
			name:       "other domain",
			info:       &idp.UserInfo{Email: "ana@gmail.com"},
			wantErr:    idp.ErrDomainRejected,
			wantDomain: true,
		},
		{
			name:       "empty email",
			info:       &idp.UserInfo{},
			wantErr:    idp.ErrDomainRejected,
			wantDomain: true,
		},
		{
			name:    "provider rejects token",
			err:     fmt.Errorf("%w: status 401", idp.ErrNotAuthenticated),
			wantErr: idp.ErrNotAuthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &testutil.MockProvider{}
			provider.On("UserInfo", mock.Anything, token).Return(tt.info, tt.err)

			r := idp.NewResolver(provider, "@dellavolpe.com.br")
			info, err := r.Resolve(context.Background(), token)

			provider.AssertExpectations(t)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, info, "no identity is returned on failure")

				var dre *idp.DomainRejectedError
				assert.Equal(t, tt.wantDomain, errors.As(err, &dre))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, info.Email)
		})
	}
}
