package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	a := New(KindBudgetWarning, SeverityWarning, "cost approaching budget",
		map[string]string{"total_usd": "2.76"})

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, KindBudgetWarning, a.Kind)
	assert.Equal(t, SeverityWarning, a.Severity)
	assert.Equal(t, "cost approaching budget", a.Message)
	assert.Equal(t, "2.76", a.Labels["total_usd"])
	assert.False(t, a.FiredAt.IsZero())

	b := New(KindBudgetWarning, SeverityWarning, "again", nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 5*time.Second, zap.NewNop())
	alert := New(KindFailoverPerformed, SeverityWarning, "promoted wasabi-secondary",
		map[string]string{"failed_backend": "aws-primary"})

	require.NoError(t, n.Notify(context.Background(), alert))
	assert.Equal(t, alert.ID, received.ID)
	assert.Equal(t, KindFailoverPerformed, received.Kind)
	assert.Equal(t, "aws-primary", received.Labels["failed_backend"])
}

func TestWebhookNotifier_Notify_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 5*time.Second, zap.NewNop())
	err := n.Notify(context.Background(), New(KindRedundancyLost, SeverityWarning, "m", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookNotifier_Notify_Unreachable(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", time.Second, zap.NewNop())
	err := n.Notify(context.Background(), New(KindRedundancyLost, SeverityWarning, "m", nil))
	require.Error(t, err)
}

func TestLogNotifier_Notify(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	for _, severity := range []string{SeverityInfo, SeverityWarning, SeverityCritical} {
		assert.NoError(t, n.Notify(context.Background(), New(KindBudgetWarning, severity, "m", nil)))
	}
}

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, alert Alert) error {
	r.alerts = append(r.alerts, alert)
	return r.err
}

func TestMultiNotifier_DeliversToAll(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	n := NewMultiNotifier(a, b)

	require.NoError(t, n.Notify(context.Background(), New(KindIntegrityFailed, SeverityCritical, "m", nil)))
	assert.Len(t, a.alerts, 1)
	assert.Len(t, b.alerts, 1)
}

func TestMultiNotifier_FirstErrorWinsButAllRun(t *testing.T) {
	errA := errors.New("webhook down")
	a := &recordingNotifier{err: errA}
	b := &recordingNotifier{err: errors.New("also down")}
	c := &recordingNotifier{}
	n := NewMultiNotifier(a, b, c)

	err := n.Notify(context.Background(), New(KindIntegrityFailed, SeverityCritical, "m", nil))
	assert.ErrorIs(t, err, errA)
	assert.Len(t, c.alerts, 1, "later notifiers still run")
}
