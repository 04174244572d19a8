package transport

import (
	"context"
	"net"
	"testing"

	"github.com/danielpatrickdp/decision-dialogue/internal/config"
	"github.com/danielpatrickdp/decision-dialogue/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// #region harness

func serve(t *testing.T, e Engine) *DecisionClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(e, zaptest.NewLogger(t))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewDecisionClientWithConn(conn)
}

func defaultEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, _, err := config.NewEngine(config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func guardianContext(friendly, hasItem bool) map[string]any {
	return map[string]any{
		"friendly":        friendly,
		"has_item":        hasItem,
		"player_has_item": false,
		"player_friendly": true,
		"npc_health":      80,
		"npc_mood":        "neutral",
		"time_of_day":     "night",
		"location":        "cave",
	}
}

// #endregion harness

func TestDecide_RuleTable(t *testing.T) {
	e := defaultEngine(t)
	c := serve(t, e)

	res, err := c.Decide(context.Background(), guardianContext(true, true))
	require.NoError(t, err)
	assert.Equal(t, "talk", res.Action)
	assert.Equal(t, "rule_table", res.Source)
	assert.Equal(t, uint64(1), res.Seq)
	assert.NotEmpty(t, res.ID)

	res, err = c.Decide(context.Background(), guardianContext(true, false))
	require.NoError(t, err)
	assert.Equal(t, "give_item", res.Action)
	assert.Equal(t, 2, e.LogSize())
}

func TestDecide_SchemaMismatchIsInvalidArgument(t *testing.T) {
	e := defaultEngine(t)
	c := serve(t, e)

	bad := guardianContext(true, true)
	bad["npc_mood"] = "furious"
	_, err := c.Decide(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Zero(t, e.LogSize())
}

func TestDecide_NotReadyIsFailedPrecondition(t *testing.T) {
	b, err := config.Build(config.Default())
	require.NoError(t, err)
	e, err := engine.New(b.Engine)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	c := serve(t, e)

	_, err = c.Decide(context.Background(), guardianContext(true, true))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "uninitialized", st.State)
}

func TestStatus_AfterRetrain(t *testing.T) {
	e := defaultEngine(t)
	c := serve(t, e)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := c.Decide(ctx, guardianContext(i%2 == 0, i%3 == 0))
		require.NoError(t, err)
	}
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, 10, st.LogSize)
	assert.Equal(t, uint64(10), st.Interactions)
	assert.Equal(t, uint64(1), st.RetrainCycles)
	require.NotNil(t, st.LastRetrain)
	// player_has_item is always false here, so trade never appears
	assert.Equal(t, "failed", st.LastRetrain["status"])
	assert.Contains(t, st.LastRetrain["error"], "insufficient")
}

func TestDecisionClient_Unreachable(t *testing.T) {
	c, err := NewDecisionClient("localhost:0")
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Status(ctx)
	assert.Error(t, err)
}
