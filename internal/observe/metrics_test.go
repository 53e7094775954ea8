package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordProviderCall(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	start := time.Now().Add(-150 * time.Millisecond)

	m.RecordProviderCall(ctx, ServiceCompletion, start, nil, "")
	m.RecordProviderCall(ctx, ServiceSpeech, start, errors.New("boom"), "transport")

	rm := collect(t, reader)
	hist := findMetric(rm, "gadugator.provider.duration")
	require.NotNil(t, hist)
	data, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range data.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
	assert.Equal(t, int64(1), sumValue(t, findMetric(rm, "gadugator.provider.errors")))
}

func TestCounters(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "user", "")
	m.RecordTurn(ctx, "assistant", "notice")
	m.RecordQuotaDenial(ctx)
	m.RecordParserFallback(ctx)
	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumValue(t, findMetric(rm, "gadugator.turns")))
	assert.Equal(t, int64(1), sumValue(t, findMetric(rm, "gadugator.quota.denials")))
	assert.Equal(t, int64(1), sumValue(t, findMetric(rm, "gadugator.parser.fallbacks")))
	assert.Equal(t, int64(1), sumValue(t, findMetric(rm, "gadugator.sessions.active")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn(context.Background(), "user", "")
		m.RecordQuotaDenial(context.Background())
		m.SessionOpened(context.Background())
	})
	assert.NotNil(t, Discard())
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/api/session/turns/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/session/turns/abc", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	hist := findMetric(collect(t, reader), "gadugator.http.request.duration")
	require.NotNil(t, hist)
	data := hist.Data.(metricdata.Histogram[float64])
	require.Len(t, data.DataPoints, 1)
	route, ok := data.DataPoints[0].Attributes.Value("route")
	require.True(t, ok)
	assert.Equal(t, "/api/session/turns/{id}", route.AsString())
	status, _ := data.DataPoints[0].Attributes.Value("status")
	assert.Equal(t, "418", status.AsString())
}

func TestProvider_Handler(t *testing.T) {
	p, err := InitProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	require.NoError(t, err)
	m.RecordQuotaDenial(context.Background())

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "gadugator_quota_denials"))
}
