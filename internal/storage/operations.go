package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/metrics"
	"github.com/blueberrycongee/convostore/internal/observability"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
)

// Operations implements generic table CRUD over a Connector. JSON fields are
// serialized on write and parsed on read according to Schemas.
type Operations struct {
	conn   *Connector
	logger *slog.Logger
}

// NewOperations creates the operations store. A nil logger uses slog.Default.
func NewOperations(conn *Connector, logger *slog.Logger) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{conn: conn, logger: logger.With("component", "operations")}
}

// Connector returns the underlying connector.
func (o *Operations) Connector() *Connector {
	return o.conn
}

// Collection resolves the collection backing table.
func (o *Operations) Collection(ctx context.Context, table TableName) (docdb.Collection, error) {
	return o.conn.Collection(ctx, string(table))
}

// Observe runs fn inside a span and records store metrics for it.
func (o *Operations) Observe(ctx context.Context, table TableName, op string, fn func(ctx context.Context) error) error {
	ctx, span := observability.StartStoreSpan(ctx, op, string(table))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.StoreLatency.WithLabelValues(string(table), op).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
		observability.RecordError(span, err)
	}
	metrics.StoreOperations.WithLabelValues(string(table), op, status).Inc()
	return err
}

// Insert writes one record.
func (o *Operations) Insert(ctx context.Context, table TableName, record bson.M) error {
	return o.Observe(ctx, table, "insert", func(ctx context.Context) error {
		doc, err := o.SerializeJSONFields(table, record)
		if err != nil {
			return err
		}
		coll, err := o.Collection(ctx, table)
		if err != nil {
			return err
		}
		return storeerrors.Wrap("STORAGE_INSERT_FAILED", coll.InsertOne(ctx, doc), tableDetails(table))
	})
}

// BatchInsert writes records in one round trip. Retried batches must be made
// idempotent by the caller (upsert by id at the domain layer).
func (o *Operations) BatchInsert(ctx context.Context, table TableName, records []bson.M) error {
	if len(records) == 0 {
		return nil
	}
	return o.Observe(ctx, table, "batch_insert", func(ctx context.Context) error {
		docs := make([]bson.M, 0, len(records))
		for _, r := range records {
			doc, err := o.SerializeJSONFields(table, r)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		coll, err := o.Collection(ctx, table)
		if err != nil {
			return err
		}
		details := tableDetails(table)
		details["count"] = len(docs)
		return storeerrors.Wrap("STORAGE_BATCH_INSERT_FAILED", coll.InsertMany(ctx, docs), details)
	})
}

// Load returns the record exactly matching keys, or nil when absent.
func (o *Operations) Load(ctx context.Context, table TableName, keys bson.M) (bson.M, error) {
	var out bson.M
	err := o.Observe(ctx, table, "load", func(ctx context.Context) error {
		coll, err := o.Collection(ctx, table)
		if err != nil {
			return err
		}
		doc, err := coll.FindOne(ctx, keys, nil)
		if errors.Is(err, docdb.ErrNoDocuments) {
			return nil
		}
		if err != nil {
			details := tableDetails(table)
			for k, v := range keys {
				details[k] = v
			}
			return storeerrors.NewBackendError("STORAGE_LOAD_FAILED", err, details)
		}
		out = o.ProcessRecord(table, doc)
		return nil
	})
	return out, err
}

// ClearTable removes every document. Failures are logged, never returned:
// when the bulk delete fails each document is deleted individually and the
// ones that still fail are counted and skipped.
func (o *Operations) ClearTable(ctx context.Context, table TableName) error {
	return o.Observe(ctx, table, "clear", func(ctx context.Context) error {
		coll, err := o.Collection(ctx, table)
		if err != nil {
			o.logger.Error("clear table: collection unavailable", "table", table, "error", err)
			return nil
		}
		if _, err = coll.DeleteMany(ctx, bson.M{}); err == nil {
			return nil
		}
		o.logger.Warn("clear table: bulk delete failed, deleting individually", "table", table, "error", err)

		docs, err := coll.Find(ctx, bson.M{}, nil)
		if err != nil {
			o.logger.Error("clear table: listing documents failed", "table", table, "error", err)
			return nil
		}
		for _, doc := range docs {
			if _, err := coll.DeleteOne(ctx, bson.M{"_id": doc["_id"]}); err != nil {
				metrics.ClearTableFailures.WithLabelValues(string(table)).Inc()
				o.logger.Error("clear table: delete failed", "table", table, "_id", doc["_id"], "error", err)
			}
		}
		return nil
	})
}

// DropTable drops the collection. A missing collection is not an error.
func (o *Operations) DropTable(ctx context.Context, table TableName) error {
	return o.Observe(ctx, table, "drop", func(ctx context.Context) error {
		coll, err := o.Collection(ctx, table)
		if err != nil {
			return err
		}
		err = coll.Drop(ctx)
		if errors.Is(err, docdb.ErrNamespaceNotFound) {
			o.logger.Debug("drop table: already absent", "table", table)
			return nil
		}
		return storeerrors.Wrap("STORAGE_DROP_TABLE_FAILED", err, tableDetails(table))
	})
}

// EnsureIndexes creates the declared indexes of the given tables, or of all
// tables when none are given.
func (o *Operations) EnsureIndexes(ctx context.Context, tables ...TableName) error {
	if len(tables) == 0 {
		tables = AllTables
	}
	for _, table := range tables {
		schema, ok := Schemas[table]
		if !ok || len(schema.Indexes) == 0 {
			continue
		}
		err := o.Observe(ctx, table, "ensure_indexes", func(ctx context.Context) error {
			coll, err := o.Collection(ctx, table)
			if err != nil {
				return err
			}
			return storeerrors.Wrap("STORAGE_ENSURE_INDEXES_FAILED", coll.CreateIndexes(ctx, schema.Indexes), tableDetails(table))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SerializeJSONFields returns a copy of record with every JSON-kind field
// marshaled to a string. Nil values are stored as nil.
func (o *Operations) SerializeJSONFields(table TableName, record bson.M) (bson.M, error) {
	schema, ok := Schemas[table]
	out := make(bson.M, len(record))
	for k, v := range record {
		out[k] = v
	}
	if !ok {
		return out, nil
	}

	for _, field := range schema.FieldsOfKind(KindJSON) {
		v, present := out[field]
		if !present || v == nil {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, storeerrors.NewInvalidArgumentError("STORAGE_SERIALIZE_FIELD_FAILED",
				fmt.Sprintf("field %s is not JSON serializable: %v", field, err),
				map[string]any{"table": string(table), "field": field})
		}
		out[field] = string(data)
	}
	return out, nil
}

// ProcessJSONFields parses every JSON-kind field that is stored as a string.
// Values that are not strings or do not parse are passed through unchanged.
func (o *Operations) ProcessJSONFields(table TableName, record bson.M) bson.M {
	schema, ok := Schemas[table]
	if !ok || record == nil {
		return record
	}
	for _, field := range schema.FieldsOfKind(KindJSON) {
		s, isString := record[field].(string)
		if !isString {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			continue
		}
		record[field] = parsed
	}
	return record
}

// ProcessRecord applies ProcessJSONFields and converts driver timestamps to
// time.Time.
func (o *Operations) ProcessRecord(table TableName, record bson.M) bson.M {
	record = o.ProcessJSONFields(table, record)
	schema, ok := Schemas[table]
	if !ok {
		return record
	}
	for _, field := range schema.FieldsOfKind(KindTimestamp) {
		if dt, isDateTime := record[field].(primitive.DateTime); isDateTime {
			record[field] = dt.Time().UTC()
		}
	}
	return record
}

func tableDetails(table TableName) map[string]any {
	return map[string]any{"table": string(table)}
}
