package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndExpose(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObserveRecognition("text_recognition", "success", 2*time.Second)
	m.ObserveRecognition("text_recognition", "failed", 0)
	m.IncrementCacheHits()
	m.SetModelLoaded(true)
	m.IncrementBatchFiles("written")
	m.IncrementHTTPRequests("/health", 200)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recognitions.WithLabelValues("text_recognition", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelLoaded))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "glm_ocr_recognitions_total")
	assert.Contains(t, string(body), `glm_ocr_batch_files_total{status="written"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRecognition("x", "success", time.Second)
		m.IncrementCacheHits()
		m.SetModelLoaded(false)
		m.ObserveModelLoad(time.Second)
		m.IncrementBatchFiles("failed")
		m.IncrementHTTPRequests("/", 500)
	})
}
