package evals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
	"github.com/blueberrycongee/convostore/tests/testutil"
)

var epoch = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Store {
	t.Helper()
	ops, _ := testutil.NewOperations(t)
	s := New(ops, storage.DocumentCapabilities(), nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		row := types.EvalRow{
			AgentName:  "support",
			Input:      fmt.Sprintf("q%d", i),
			Output:     fmt.Sprintf("a%d", i),
			Result:     map[string]any{"score": float64(i)},
			MetricName: "faithfulness",
			RunID:      fmt.Sprintf("run-%d", i),
			CreatedAt:  epoch.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 0 {
			row.TestInfo = map[string]any{"testPath": "evals/support.test.ts", "testName": "answers"}
		}
		require.NoError(t, s.SaveEval(ctx, row))
	}
	require.NoError(t, s.SaveEval(ctx, types.EvalRow{AgentName: "sales", RunID: "other", CreatedAt: epoch}))
	return s
}

func TestGetEvalsByAgentName(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	all, err := s.GetEvalsByAgentName(ctx, "support", types.EvalTypeAll)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "run-3", all[0].RunID, "newest first")
	assert.Equal(t, map[string]any{"score": float64(3)}, all[0].Result)

	tests, err := s.GetEvalsByAgentName(ctx, "support", types.EvalTypeTest)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-2", "run-0"}, []string{tests[0].RunID, tests[1].RunID})
	assert.Equal(t, "answers", tests[0].TestInfo["testName"])

	live, err := s.GetEvalsByAgentName(ctx, "support", types.EvalTypeLive)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-3", "run-1"}, []string{live[0].RunID, live[1].RunID})
}

func TestGetEvalsByAgentName_TestInfoWithoutPathIsLive(t *testing.T) {
	ops, _ := testutil.NewOperations(t)
	s := New(ops, storage.DocumentCapabilities(), nil)
	ctx := context.Background()

	require.NoError(t, ops.Insert(ctx, storage.TableEvals, bson.M{
		"agent_name": "support",
		"run_id":     "legacy",
		"test_info":  map[string]any{"testName": "no path"},
		"created_at": epoch,
	}))

	live, err := s.GetEvalsByAgentName(ctx, "support", types.EvalTypeLive)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "legacy", live[0].RunID)
}

func TestGetEvals_Paginated(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	page, err := s.GetEvals(ctx, types.GetEvalsArgs{PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)

	page, err = s.GetEvals(ctx, types.GetEvalsArgs{AgentName: "support", Type: types.EvalTypeTest, PerPage: 1, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Evals, 1)
	assert.Equal(t, "run-0", page.Evals[0].RunID)
	assert.False(t, page.HasMore)

	start := epoch.Add(time.Minute)
	page, err = s.GetEvals(ctx, types.GetEvalsArgs{AgentName: "support", DateRange: &types.DateRange{Start: &start}})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestEvals_RequireCapability(t *testing.T) {
	ops, _ := testutil.NewOperations(t)
	s := New(ops, storage.DocumentCapabilities().Without(storage.CapLegacyEvals), nil)
	_, err := s.GetEvals(context.Background(), types.GetEvalsArgs{})
	assert.True(t, storeerrors.IsUnsupported(err))
}
