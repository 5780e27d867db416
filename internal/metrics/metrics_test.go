package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveExtraction(t *testing.T) {
	before := testutil.ToFloat64(extractionsTotal.WithLabelValues("fallback"))
	ObserveExtraction("fallback", 150*time.Millisecond, 0.5)
	after := testutil.ToFloat64(extractionsTotal.WithLabelValues("fallback"))
	assert.Equal(t, before+1, after)
}

func TestHTTP_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTP)
	r.Get("/v1/listings/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/listings/{id}", "404"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/listings/{id}", "404"))
	assert.Equal(t, before+1, after)
}
