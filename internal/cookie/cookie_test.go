package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSession(t *testing.T) {
	t.Setenv("RNC_FRONT_ENV", "")
	rec := httptest.NewRecorder()
	SetSession(rec, "abc", time.Hour)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookie, c.Name)
	assert.Equal(t, "abc", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)
}

func TestSetSession_DevIsInsecure(t *testing.T) {
	t.Setenv("RNC_FRONT_ENV", "development")
	rec := httptest.NewRecorder()
	SetSession(rec, "abc", time.Hour)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.False(t, cookies[0].Secure)
}

func TestGetSession(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := GetSession(req)
	assert.ErrorIs(t, err, http.ErrNoCookie)

	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "xyz"})
	v, err := GetSession(req)
	require.NoError(t, err)
	assert.Equal(t, "xyz", v)
}
