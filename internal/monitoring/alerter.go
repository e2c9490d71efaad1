package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/maps-scraper/internal/config"
	"github.com/sells-group/maps-scraper/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed       AlertType = "run_failed"
	AlertSearchesBlocked AlertType = "searches_blocked"
	AlertErrorRate       AlertType = "search_error_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunKey    string         `json:"run_key,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a finished RunSummary against configured thresholds
// and sends alerts via webhook when they are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the summary and returns any alerts.
func (a *Alerter) Evaluate(sum *model.RunSummary) []Alert {
	if sum == nil {
		return nil
	}
	var alerts []Alert
	now := time.Now().UTC()

	if sum.Status == model.RunStatusFailed {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			RunKey:   sum.RunKey,
			Message:  fmt.Sprintf("Scraper run failed after %d of %d searches: %s", sum.SearchesProcessed, sum.SearchesTotal, sum.Error),
			Details: map[string]any{
				"searches_processed": sum.SearchesProcessed,
				"searches_total":     sum.SearchesTotal,
			},
			Timestamp: now,
		})
	}

	if sum.SearchesBlocked > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSearchesBlocked,
			Severity: "medium",
			RunKey:   sum.RunKey,
			Message:  fmt.Sprintf("%d search(es) hit a block page and were left unused", sum.SearchesBlocked),
			Details: map[string]any{
				"searches_blocked":   sum.SearchesBlocked,
				"searches_processed": sum.SearchesProcessed,
			},
			Timestamp: now,
		})
	}

	if sum.SearchesProcessed >= a.cfg.MinSearches && sum.SearchesProcessed > 0 {
		rate := float64(sum.SearchesErrors) / float64(sum.SearchesProcessed)
		if rate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertErrorRate,
				Severity: "high",
				RunKey:   sum.RunKey,
				Message: fmt.Sprintf(
					"Search error rate %.1f%% exceeds threshold %.1f%% (%d errored / %d processed)",
					rate*100, a.cfg.FailureRateThreshold*100, sum.SearchesErrors, sum.SearchesProcessed,
				),
				Details: map[string]any{
					"error_rate": rate,
					"threshold":  a.cfg.FailureRateThreshold,
					"errored":    sum.SearchesErrors,
					"processed":  sum.SearchesProcessed,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
