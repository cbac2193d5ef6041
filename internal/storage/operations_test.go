package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func newTestOperations(t *testing.T) *Operations {
	t.Helper()
	conn, _ := newTestConnector(t)
	return NewOperations(conn, nil)
}

func TestOperations_JSONFieldsRoundTrip(t *testing.T) {
	ops := newTestOperations(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	metadata := map[string]any{
		"workingMemory": "# Notes",
		"nested":        map[string]any{"count": float64(2), "tags": []any{"a", "b"}},
	}
	require.NoError(t, ops.Insert(ctx, TableThreads, bson.M{
		"id":         "t1",
		"resourceId": "r1",
		"title":      "hello",
		"metadata":   metadata,
		"createdAt":  created,
	}))

	coll, err := ops.Collection(ctx, TableThreads)
	require.NoError(t, err)
	raw, err := coll.FindOne(ctx, bson.M{"id": "t1"}, nil)
	require.NoError(t, err)
	assert.IsType(t, "", raw["metadata"], "json fields are stored as strings")

	got, err := ops.Load(ctx, TableThreads, bson.M{"id": "t1"})
	require.NoError(t, err)
	assert.Equal(t, metadata, got["metadata"])
	assert.Equal(t, "hello", got["title"])
	assert.Equal(t, created, Time(got, "createdAt"))
}

func TestOperations_StringValuesInJSONFieldsSurvive(t *testing.T) {
	ops := newTestOperations(t)
	ctx := context.Background()

	require.NoError(t, ops.Insert(ctx, TableScorers, bson.M{"id": "s1", "input": "42", "output": "plain text"}))

	got, err := ops.Load(ctx, TableScorers, bson.M{"id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, "42", got["input"])
	assert.Equal(t, "plain text", got["output"])
}

func TestOperations_ProcessJSONFieldsLeavesInvalidJSON(t *testing.T) {
	ops := newTestOperations(t)

	rec := ops.ProcessJSONFields(TableMessages, bson.M{"content": "{not json", "role": `{"a":1}`})
	assert.Equal(t, "{not json", rec["content"])
	assert.Equal(t, `{"a":1}`, rec["role"], "only declared json fields are parsed")
}

func TestOperations_LoadMissingReturnsNil(t *testing.T) {
	ops := newTestOperations(t)

	got, err := ops.Load(context.Background(), TableResources, bson.M{"id": "missing"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOperations_BatchInsertAndClear(t *testing.T) {
	ops := newTestOperations(t)
	ctx := context.Background()

	require.NoError(t, ops.BatchInsert(ctx, TableMessages, []bson.M{
		{"id": "m1", "threadId": "t1", "content": map[string]any{"content": "a"}},
		{"id": "m2", "threadId": "t1", "content": map[string]any{"content": "b"}},
	}))
	require.NoError(t, ops.BatchInsert(ctx, TableMessages, nil))

	coll, err := ops.Collection(ctx, TableMessages)
	require.NoError(t, err)
	n, err := coll.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, ops.ClearTable(ctx, TableMessages))
	n, err = coll.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestOperations_DropTableMissingIsSuccess(t *testing.T) {
	ops := newTestOperations(t)
	ctx := context.Background()

	require.NoError(t, ops.DropTable(ctx, TableTraces))

	require.NoError(t, ops.Insert(ctx, TableTraces, bson.M{"id": "s1"}))
	require.NoError(t, ops.DropTable(ctx, TableTraces))
}

func TestOperations_EnsureIndexes(t *testing.T) {
	ops := newTestOperations(t)
	ctx := context.Background()

	require.NoError(t, ops.EnsureIndexes(ctx))

	coll, err := ops.Collection(ctx, TableWorkflowSnapshots)
	require.NoError(t, err)
	specs, err := coll.ListIndexes(ctx)
	require.NoError(t, err)

	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "workflowName_runId_unique")

	require.NoError(t, ops.Insert(ctx, TableWorkflowSnapshots, bson.M{"workflowName": "wf", "runId": "r1"}))
	assert.Error(t, ops.Insert(ctx, TableWorkflowSnapshots, bson.M{"workflowName": "wf", "runId": "r1"}))
}

func TestSchema_FieldsOfKind(t *testing.T) {
	assert.Equal(t, []string{"attributes", "events", "links", "other", "status"}, Schemas[TableTraces].FieldsOfKind(KindJSON))
	assert.Equal(t, []string{"result", "test_info"}, Schemas[TableEvals].FieldsOfKind(KindJSON))
	for _, table := range AllTables {
		_, ok := Schemas[table]
		assert.True(t, ok, "schema for %s", table)
	}
}
