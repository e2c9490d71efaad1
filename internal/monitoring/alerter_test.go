package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/maps-scraper/internal/config"
	"github.com/sells-group/maps-scraper/internal/model"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{FailureRateThreshold: 0.5, MinSearches: 5}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sum := &model.RunSummary{Status: model.RunStatusCompleted}
	sum.SearchesProcessed = 10
	sum.SearchesErrors = 1

	assert.Empty(t, a.Evaluate(sum))
	assert.Empty(t, a.Evaluate(nil))
}

func TestAlerter_Evaluate_RunFailed(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sum := &model.RunSummary{RunKey: "run-1", Status: model.RunStatusFailed, Error: "store: connection refused"}

	alerts := a.Evaluate(sum)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailed, alerts[0].Type)
	assert.Equal(t, "run-1", alerts[0].RunKey)
	assert.Contains(t, alerts[0].Message, "connection refused")
}

func TestAlerter_Evaluate_Blocked(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sum := &model.RunSummary{Status: model.RunStatusCompletedWithErrors}
	sum.SearchesProcessed = 2
	sum.SearchesBlocked = 2
	sum.SearchesErrors = 2

	alerts := a.Evaluate(sum)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSearchesBlocked, alerts[0].Type)
}

func TestAlerter_Evaluate_ErrorRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sum := &model.RunSummary{Status: model.RunStatusCompletedWithErrors}
	sum.SearchesProcessed = 6
	sum.SearchesErrors = 4

	alerts := a.Evaluate(sum)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertErrorRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestAlerter_Evaluate_MinimumSearchesRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	sum := &model.RunSummary{Status: model.RunStatusCompletedWithErrors}
	sum.SearchesProcessed = 2
	sum.SearchesErrors = 2

	assert.Empty(t, a.Evaluate(sum))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailed, Severity: "high", Message: "test alert 1"},
		{Type: AlertSearchesBlocked, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed}}))
}
