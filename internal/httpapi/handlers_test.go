package httpapi

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/danielpatrickdp/decision-dialogue/internal/engine"
	"github.com/danielpatrickdp/decision-dialogue/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *engine.Engine) {
	t.Helper()
	m := metrics.New()
	e, _, err := config.NewEngine(config.Default(), engine.WithObserver(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return NewRouter(NewHandlers(e, m.Handler(), nil)), e
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const guardian = `{"context": {"friendly": %s, "has_item": true, "player_has_item": false,
	"player_friendly": true, "npc_health": 90, "npc_mood": "happy",
	"time_of_day": "evening", "location": "village"}}`

func decideBody(friendly string) string {
	return strings.Replace(guardian, "%s", friendly, 1)
}

func TestHandlers_HandleDecide(t *testing.T) {
	router, e := setupTestRouter(t)

	w := do(router, "POST", "/v1/decide", decideBody("true"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp DecideResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "talk", resp.Action)
	assert.Equal(t, "rule_table", resp.Source)
	assert.Equal(t, uint64(1), resp.Seq)
	assert.Equal(t, 1, e.LogSize())
}

func TestHandlers_HandleDecide_InvalidRequest(t *testing.T) {
	router, e := setupTestRouter(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"not json", "{", http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing context", `{}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown category", strings.Replace(decideBody("true"), "happy", "furious", 1), http.StatusBadRequest, "SCHEMA_MISMATCH"},
		{"missing attribute", `{"context": {"friendly": true}}`, http.StatusBadRequest, "SCHEMA_MISMATCH"},
		{"health out of range", strings.Replace(decideBody("true"), "90", "120", 1), http.StatusBadRequest, "SCHEMA_MISMATCH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, "POST", "/v1/decide", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
	assert.Zero(t, e.LogSize())
}

func TestHandlers_HandleStatus(t *testing.T) {
	router, _ := setupTestRouter(t)
	do(router, "POST", "/v1/decide", decideBody("false"))

	w := do(router, "GET", "/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["state"])
	assert.Equal(t, "rule_table", resp["policy_kind"])
	assert.Equal(t, float64(1), resp["log_size"])
	assert.NotContains(t, resp, "last_retrain")
}

func TestHandlers_HandleLog(t *testing.T) {
	router, _ := setupTestRouter(t)
	do(router, "POST", "/v1/decide", decideBody("true"))
	do(router, "POST", "/v1/decide", decideBody("false"))

	w := do(router, "GET", "/v1/log", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	rows, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "seq", rows[0][0])

	w = do(router, "GET", "/v1/log?last=1", "")
	rows, err = csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[1][0])

	w = do(router, "GET", "/v1/log?last=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_HandleTruncateLog(t *testing.T) {
	router, e := setupTestRouter(t)
	for i := 0; i < 3; i++ {
		do(router, "POST", "/v1/decide", decideBody("true"))
	}

	w := do(router, "DELETE", "/v1/log?keep=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["dropped"])
	assert.Equal(t, 1, e.LogSize())
	assert.Equal(t, uint64(3), e.ExportLog()[0].Seq)

	w = do(router, "DELETE", "/v1/log", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_HandleRetrain(t *testing.T) {
	router, _ := setupTestRouter(t)

	// an empty log cannot cover the vocabulary
	w := do(router, "POST", "/v1/retrain", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp RetrainResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.NotEmpty(t, resp.Error)
	assert.True(t, resp.Manual)
	assert.Equal(t, uint64(1), resp.Cycle)
}

func TestHandlers_Metrics(t *testing.T) {
	router, _ := setupTestRouter(t)
	do(router, "POST", "/v1/decide", decideBody("true"))

	w := do(router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `npc_decisions_total{action="talk",source="rule_table"} 1`)
}
