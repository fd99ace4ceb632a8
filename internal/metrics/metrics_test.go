package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(InstrumentHandler)
	router.HandleFunc("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/products/{id}", "418"))

	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/"+id, nil))
		require.Equal(t, http.StatusTeapot, rr.Code)
	}

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/products/{id}", "418"))
	assert.Equal(t, 3.0, after-before)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(ledgerTransfers.WithLabelValues("ok"))
	RecordTransfer("ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(ledgerTransfers.WithLabelValues("ok"))-before)

	subs := testutil.ToFloat64(relaySubscribers)
	RelayJoined()
	RelayJoined()
	RelayLeft()
	assert.Equal(t, 1.0, testutil.ToFloat64(relaySubscribers)-subs)
	RelayLeft()
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rec.Hijack()
	assert.Error(t, err)
}
