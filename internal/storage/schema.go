package storage

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/docdb"
)

// TableName identifies a persisted collection.
type TableName string

const (
	TableThreads           TableName = "threads"
	TableMessages          TableName = "messages"
	TableResources         TableName = "resources"
	TableWorkflowSnapshots TableName = "workflow_snapshots"
	TableTraces            TableName = "traces"
	TableScorers           TableName = "scorers"
	TableEvals             TableName = "evals"
)

// AllTables lists every table in creation order.
var AllTables = []TableName{
	TableThreads,
	TableMessages,
	TableResources,
	TableWorkflowSnapshots,
	TableTraces,
	TableScorers,
	TableEvals,
}

// FieldKind is the stored representation of a column.
type FieldKind string

const (
	KindText      FieldKind = "text"
	KindJSON      FieldKind = "json"
	KindTimestamp FieldKind = "timestamp"
	KindInteger   FieldKind = "integer"
	KindFloat     FieldKind = "float"
	KindBool      FieldKind = "bool"
)

// TableSchema declares the fields of a table. JSON fields are stored as
// serialized strings and parsed back on read; the descriptor, not the value's
// runtime shape, decides which fields are converted.
type TableSchema struct {
	Name    TableName
	Key     []string
	Fields  map[string]FieldKind
	Indexes []docdb.IndexSpec
}

// FieldsOfKind returns the sorted names of fields declared with kind.
func (s TableSchema) FieldsOfKind(kind FieldKind) []string {
	var out []string
	for name, k := range s.Fields {
		if k == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// KindOf returns the declared kind of field.
func (s TableSchema) KindOf(field string) (FieldKind, bool) {
	k, ok := s.Fields[field]
	return k, ok
}

func asc(keys ...string) bson.D {
	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: 1})
	}
	return d
}

// Schemas holds the descriptor of every table.
var Schemas = map[TableName]TableSchema{
	TableThreads: {
		Name: TableThreads,
		Key:  []string{"id"},
		Fields: map[string]FieldKind{
			"id":         KindText,
			"resourceId": KindText,
			"title":      KindText,
			"metadata":   KindJSON,
			"createdAt":  KindTimestamp,
			"updatedAt":  KindTimestamp,
		},
		Indexes: []docdb.IndexSpec{
			{Name: "id_unique", Keys: asc("id"), Unique: true},
			{Name: "resourceId_createdAt", Keys: asc("resourceId", "createdAt")},
		},
	},
	TableMessages: {
		Name: TableMessages,
		Key:  []string{"id"},
		Fields: map[string]FieldKind{
			"id":         KindText,
			"threadId":   KindText,
			"resourceId": KindText,
			"role":       KindText,
			"type":       KindText,
			"content":    KindJSON,
			"createdAt":  KindTimestamp,
		},
		Indexes: []docdb.IndexSpec{
			{Name: "id_unique", Keys: asc("id"), Unique: true},
			{Name: "threadId_createdAt", Keys: asc("threadId", "createdAt")},
			{Name: "resourceId", Keys: asc("resourceId")},
		},
	},
	TableResources: {
		Name: TableResources,
		Key:  []string{"id"},
		Fields: map[string]FieldKind{
			"id":            KindText,
			"workingMemory": KindText,
			"metadata":      KindJSON,
			"createdAt":     KindTimestamp,
			"updatedAt":     KindTimestamp,
		},
		Indexes: []docdb.IndexSpec{
			{Name: "id_unique", Keys: asc("id"), Unique: true},
		},
	},
	TableWorkflowSnapshots: {
		Name: TableWorkflowSnapshots,
		Key:  []string{"workflowName", "runId"},
		Fields: map[string]FieldKind{
			"workflowName": KindText,
			"runId":        KindText,
			"resourceId":   KindText,
			"snapshot":     KindJSON,
			"createdAt":    KindTimestamp,
			"updatedAt":    KindTimestamp,
		},
		Indexes: []docdb.IndexSpec{
			{Name: "workflowName_runId_unique", Keys: asc("workflowName", "runId"), Unique: true},
			{Name: "resourceId", Keys: asc("resourceId")},
		},
	},
	TableTraces: {
		Name: TableTraces,
		Key:  []string{"id"},
		Fields: map[string]FieldKind{
			"id":           KindText,
			"parentSpanId": KindText,
			"traceId":      KindText,
			"name":         KindText,
			"scope":        KindText,
			"kind":         KindInteger,
			"attributes":   KindJSON,
			"status":       KindJSON,
			"events":       KindJSON,
			"links":        KindJSON,
			"other":        KindJSON,
			"startTime":    KindInteger,
			"endTime":      KindInteger,
			"createdAt":    KindTimestamp,
		},
		Indexes: []docdb.IndexSpec{
			{Name: "id_unique", Keys: asc("id"), Unique: true},
			{Name: "traceId_id", Keys: asc("traceId", "id")},
			{Name: "name_createdAt", Keys: asc("name", "createdAt")},
		},
	},
	TableScorers: {
		Name: TableScorers,
		Key:  []string{"id"},
		Fields: map[string]FieldKind{
			"id":                   KindText,
			"scorerId":             KindText,
			"traceId":              KindText,
			"runId":                KindText,
			"scorer":               KindJSON,
			"preprocessStepResult": KindJSON,
			"analyzeStepResult":    KindJSON,
			"score":                KindFloat,
			"reason":               KindText,
			"metadata":             KindJSON,
			"input":                KindJSON,
			"output":               KindJSON,
			"additionalContext":    KindJSON,
			"runtimeContext":       KindJSON,
			"entityType":           KindText,
			"entityId":             KindText,
			"entity":               KindJSON,
			"source":               KindText,
			"resourceId":           KindText,
			"threadId":             KindText,
			"createdAt":            KindTimestamp,
			"updatedAt":            KindTimestamp,
		},
		Indexes: []docdb.IndexSpec{
			{Name: "id_unique", Keys: asc("id"), Unique: true},
			{Name: "scorerId_createdAt", Keys: asc("scorerId", "createdAt")},
			{Name: "runId", Keys: asc("runId")},
			{Name: "entityId_entityType", Keys: asc("entityId", "entityType")},
		},
	},
	TableEvals: {
		Name: TableEvals,
		Key:  []string{"run_id", "metric_name"},
		Fields: map[string]FieldKind{
			"agent_name":    KindText,
			"input":         KindText,
			"output":        KindText,
			"result":        KindJSON,
			"metric_name":   KindText,
			"instructions":  KindText,
			"run_id":        KindText,
			"global_run_id": KindText,
			"test_info":     KindJSON,
			"created_at":    KindTimestamp,
		},
		Indexes: []docdb.IndexSpec{
			{Name: "agent_name_created_at", Keys: asc("agent_name", "created_at")},
		},
	},
}
