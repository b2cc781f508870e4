package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.MessagesAppended.WithLabelValues("user").Inc()
	m.ObserveNotification("email", true)
	m.ObserveNotification("email", false)
	m.ObserveStore("append_message", 3*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesAppended.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("email", "failed")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_messages_appended_total")
	assert.Contains(t, rec.Body.String(), "test_store_mutation_duration_seconds")
}
