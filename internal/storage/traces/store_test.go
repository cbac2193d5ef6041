package traces

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
	"github.com/blueberrycongee/convostore/tests/testutil"
)

var epoch = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Store {
	t.Helper()
	ops, _ := testutil.NewOperations(t)
	s := New(ops, storage.DocumentCapabilities(), nil)

	var batch []types.Trace
	for i := 0; i < 6; i++ {
		name := "agent.generate"
		if i%2 == 1 {
			name = "workflow.step"
		}
		batch = append(batch, types.Trace{
			ID:         fmt.Sprintf("span-%d", i),
			TraceID:    "trace-1",
			Name:       name,
			Scope:      "convostore",
			Kind:       1,
			Attributes: map[string]any{"env": []string{"dev", "prod"}[i%2], "index": float64(i)},
			Status:     map[string]any{"code": float64(0)},
			Events:     []any{map[string]any{"name": "start"}},
			StartTime:  int64(i * 1000),
			EndTime:    int64(i*1000 + 500),
			CreatedAt:  epoch.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, s.BatchTraceInsert(context.Background(), batch))
	return s
}

func TestGetTraces_RoundTrip(t *testing.T) {
	s := seed(t)

	got, err := s.GetTraces(context.Background(), types.GetTracesArgs{Filters: map[string]any{"id": "span-2"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	tr := got[0]
	assert.Equal(t, "agent.generate", tr.Name)
	assert.Equal(t, 1, tr.Kind)
	assert.Equal(t, map[string]any{"env": "dev", "index": float64(2)}, tr.Attributes)
	assert.Equal(t, []any{map[string]any{"name": "start"}}, tr.Events)
	assert.Equal(t, int64(2500), tr.EndTime)
	assert.Equal(t, epoch.Add(2*time.Minute), tr.CreatedAt)
}

func TestGetTracesPaginated_NamePrefixAndPages(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	page, err := s.GetTracesPaginated(ctx, types.GetTracesArgs{Name: "agent.", PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	assert.Equal(t, "span-4", page.Traces[0].ID, "newest first")

	page, err = s.GetTracesPaginated(ctx, types.GetTracesArgs{Name: "agent.", Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page.Traces, 1)
	assert.Equal(t, "span-0", page.Traces[0].ID)
	assert.False(t, page.HasMore)

	none, err := s.GetTracesPaginated(ctx, types.GetTracesArgs{Name: "agent.*"})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Total, "names are matched literally")
}

func TestGetTracesPaginated_AttributesAndDateRange(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	page, err := s.GetTracesPaginated(ctx, types.GetTracesArgs{
		Attributes: map[string]string{"env": "prod"},
		PerPage:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []string{"span-5", "span-3"}, []string{page.Traces[0].ID, page.Traces[1].ID})
	assert.True(t, page.HasMore)

	start := epoch.Add(time.Minute)
	end := epoch.Add(3 * time.Minute)
	page, err = s.GetTracesPaginated(ctx, types.GetTracesArgs{
		Scope:     "convostore",
		DateRange: &types.DateRange{Start: &start, End: &end},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.False(t, page.HasMore)
}

func TestTraces_RequireCapability(t *testing.T) {
	ops, _ := testutil.NewOperations(t)
	s := New(ops, storage.DocumentCapabilities().Without(storage.CapTraces), nil)

	_, err := s.GetTraces(context.Background(), types.GetTracesArgs{})
	assert.True(t, storeerrors.IsUnsupported(err))
	assert.True(t, storeerrors.IsUnsupported(s.BatchTraceInsert(context.Background(), []types.Trace{{ID: "x"}})))
}
