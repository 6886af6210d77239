// Package alerting emits structured alert events to an external
// notification collaborator. Transport rendering (Slack, email) happens on
// the receiving side, not here.
package alerting

import (
	"time"

	"github.com/google/uuid"
)

// Severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert kinds raised by the manager.
const (
	KindBudgetWarning        = "budget-warning"
	KindIntegrityFailed      = "integrity-failed"
	KindAllBackendsUnhealthy = "all-backends-unhealthy"
	KindRedundancyLost       = "redundancy-lost"
	KindFailoverPerformed    = "failover-performed"
	KindFailoverRequired     = "failover-required"
)

// Alert is one structured event for the notification collaborator.
type Alert struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Severity string            `json:"severity"`
	Message  string            `json:"message"`
	Labels   map[string]string `json:"labels,omitempty"`
	FiredAt  time.Time         `json:"fired_at"`
}

// New builds an alert with a fresh ID and timestamp.
func New(kind, severity, message string, labels map[string]string) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: severity,
		Message:  message,
		Labels:   labels,
		FiredAt:  time.Now().UTC(),
	}
}
