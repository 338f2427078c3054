package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_LabelsByRoutePattern(t *testing.T) {
	m := New("test", nil)

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/records/{id}/edit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records/"+id+"/edit", nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/records/{id}/edit", "418")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestObservers(t *testing.T) {
	m := New("test", func() int { return 4 })

	m.ObserveLogin("authenticated")
	m.ObserveLogin("authenticated")
	m.ObserveStorage("upload", nil)
	m.ObserveStorage("upload", errors.New("boom"))
	m.ObserveRecord("insert_record", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues("authenticated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageOps.WithLabelValues("upload", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageOps.WithLabelValues("upload", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordOps.WithLabelValues("insert_record", "ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeSessions))
}

func TestHandler(t *testing.T) {
	m := New("1.2.3", nil)
	m.ObserveLogin("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rnc_front_login_outcomes_total{outcome="failed"} 1`)
	assert.Contains(t, string(body), `rnc_front_build_info{version="1.2.3"} 1`)
}

func TestSeparateInstances(t *testing.T) {
	assert.NotPanics(t, func() {
		New("a", nil)
		New("b", nil)
	})
}
