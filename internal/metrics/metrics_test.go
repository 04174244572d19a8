package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors_Observe(t *testing.T) {
	c := New()
	c.ObserveDecision(policy.KindRuleTable, "talk", time.Millisecond)
	c.ObserveDecision(policy.KindRuleTable, "talk", time.Millisecond)
	c.ObserveDecision(policy.KindClassifier, "trade", time.Millisecond)
	c.ObserveRejected("schema_mismatch")
	c.ObserveRetrain(retrain.Outcome{Status: retrain.StatusPublished, Samples: 10, Duration: time.Millisecond})
	c.ObserveRetrain(retrain.Outcome{Status: retrain.StatusFailed, Samples: 4})
	c.ObserveLogSize(12)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.decisions.WithLabelValues("rule_table", "talk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisions.WithLabelValues("classifier", "trade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected.WithLabelValues("schema_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retrains.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retrains.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.retrainSamples))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.logSize))
}

func TestCollectors_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveLogSize(3)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.logSize))
}

func TestCollectors_Handler(t *testing.T) {
	c := New()
	c.ObserveLogSize(7)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "npc_interaction_log_size 7"), string(body))
}
