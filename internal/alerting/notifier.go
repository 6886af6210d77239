package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers alerts to an external collaborator.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Notify delivers the alert. Delivery failure is logged and returned but
// never blocks the operation that raised the alert.
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("alert delivery failed",
			zap.String("kind", alert.Kind),
			zap.Error(err))
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("alert delivery rejected",
			zap.String("kind", alert.Kind),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("deliver alert: status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the log. Used when no webhook is configured
// and as the tail of a MultiNotifier so alerts are never lost silently.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at a level matching its severity.
func (n *LogNotifier) Notify(ctx context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("kind", alert.Kind),
		zap.Any("labels", alert.Labels),
	}
	switch alert.Severity {
	case SeverityCritical:
		n.logger.Error(alert.Message, fields...)
	case SeverityWarning:
		n.logger.Warn(alert.Message, fields...)
	default:
		n.logger.Info(alert.Message, fields...)
	}
	return nil
}

// MultiNotifier fans out to several notifiers; the first error is returned
// after all have been attempted.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier combines notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify delivers to every notifier.
func (n *MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, notifier := range n.notifiers {
		if err := notifier.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
