package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/orca/events"
)

func scrapeBody(t *testing.T, registry *ScrapeRegistry) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, req)
	return w.Body.String()
}

func TestScrapeRegistry_NewHistogramVec(t *testing.T) {
	registry, err := NewScrapeRegistry()
	require.NoError(t, err)

	hist, err := registry.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "A test histogram",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	require.NoError(t, err)

	hist.With(prometheus.Labels{"stage": "model_invoke"}).Observe(0.25)

	body := scrapeBody(t, registry)
	assert.Contains(t, body, `test_duration_seconds_count{stage="model_invoke"} 1`)
	assert.Contains(t, body, `test_duration_seconds_sum{stage="model_invoke"} 0.25`)
}

func TestPipelineMetrics_StageAndRunObservations(t *testing.T) {
	registry, err := NewScrapeRegistry()
	require.NoError(t, err)

	pm, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	pm.ObserveStage("chat", "model_invoke", "transform", "ok", 250*time.Millisecond)
	pm.ObserveStage("chat", "model_invoke", "transform", "fail", 100*time.Millisecond)
	pm.ObserveRun("chat", "success", time.Second)
	pm.SetBreakerState("openai", 2)
	pm.SetDeadLetterDepth(3)

	body := scrapeBody(t, registry)
	assert.Contains(t, body, `pipeline_stage_outcomes_total{kind="transform",pipeline="chat",stage="model_invoke",status="ok"} 1`)
	assert.Contains(t, body, `pipeline_stage_outcomes_total{kind="transform",pipeline="chat",stage="model_invoke",status="fail"} 1`)
	assert.Contains(t, body, `pipeline_runs_total{pipeline="chat",status="success"} 1`)
	assert.Contains(t, body, `pipeline_breaker_state{provider="openai"} 2`)
	assert.Contains(t, body, "pipeline_dead_letter_pending 3")
}

func TestPipelineMetrics_RunSink(t *testing.T) {
	registry, err := NewScrapeRegistry()
	require.NoError(t, err)

	pm, err := NewPipelineMetrics(registry)
	require.NoError(t, err)
	sink := pm.RunSink()

	require.NoError(t, sink.Emit(context.Background(), events.Event{
		Type:       events.TypeRunCompleted,
		Pipeline:   "chat",
		Status:     "failed",
		DurationMS: 1500,
	}))
	// Stage events are the metrics interceptor's job, not the sink's.
	require.NoError(t, sink.Emit(context.Background(), events.Event{
		Type:     events.TypeStageCompleted,
		Pipeline: "chat",
		Status:   "ok",
	}))

	body := scrapeBody(t, registry)
	assert.Contains(t, body, `pipeline_runs_total{pipeline="chat",status="failed"} 1`)
	assert.NotContains(t, body, `pipeline_runs_total{pipeline="chat",status="ok"}`)
}
