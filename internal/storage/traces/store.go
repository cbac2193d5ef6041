// Package traces stores recorded spans and serves filtered listings.
package traces

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

const (
	table = storage.TableTraces

	// DefaultPerPage is the page size when none is requested.
	DefaultPerPage = 100
)

// Store reads and writes traces.
type Store struct {
	ops    *storage.Operations
	caps   storage.Capabilities
	logger *slog.Logger
	now    func() time.Time
}

// New creates a trace store. A nil logger uses slog.Default.
func New(ops *storage.Operations, caps storage.Capabilities, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{ops: ops, caps: caps, logger: logger.With("component", "trace_store"), now: time.Now}
}

// BatchTraceInsert writes traces in one round trip. Zero createdAt values
// are set to the current time.
func (s *Store) BatchTraceInsert(ctx context.Context, traces []types.Trace) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(traces) == 0 {
		return nil
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	records := make([]bson.M, 0, len(traces))
	for _, tr := range traces {
		if tr.CreatedAt.IsZero() {
			tr.CreatedAt = now
		}
		records = append(records, traceRecord(tr))
	}
	return s.ops.BatchInsert(ctx, table, records)
}

// GetTraces returns one page of matching traces.
func (s *Store) GetTraces(ctx context.Context, args types.GetTracesArgs) ([]types.Trace, error) {
	page, err := s.GetTracesPaginated(ctx, args)
	if err != nil {
		return nil, err
	}
	return page.Traces, nil
}

// GetTracesPaginated lists traces newest first. Name matches as a prefix;
// Scope, Filters and Attributes match exactly.
func (s *Store) GetTracesPaginated(ctx context.Context, args types.GetTracesArgs) (types.PaginatedTraces, error) {
	if err := s.check(); err != nil {
		return types.PaginatedTraces{}, err
	}
	page, perPage, offset := storage.Page(args.Page, args.PerPage, DefaultPerPage)
	out := types.PaginatedTraces{Traces: []types.Trace{}}

	err := s.ops.Observe(ctx, table, "get_traces", func(ctx context.Context) error {
		filter := bson.M{}
		for k, v := range args.Filters {
			filter[k] = v
		}
		if args.Name != "" {
			filter["name"] = bson.M{"$regex": "^" + regexp.QuoteMeta(args.Name)}
		}
		if args.Scope != "" {
			filter["scope"] = args.Scope
		}
		filter = storage.DateRangeFilter(filter, "createdAt", args.DateRange)

		coll, err := s.ops.Collection(ctx, table)
		if err != nil {
			return err
		}
		sortOrder := bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: 1}}

		// Attributes are stored serialized, so attribute matches are applied
		// after decoding and the window is cut in process.
		if len(args.Attributes) > 0 {
			docs, err := coll.Find(ctx, filter, &docdb.FindOptions{Sort: sortOrder})
			if err != nil {
				return err
			}
			var matched []types.Trace
			for _, d := range docs {
				tr := traceFromRecord(s.ops.ProcessRecord(table, d))
				if attributesMatch(tr.Attributes, args.Attributes) {
					matched = append(matched, tr)
				}
			}
			total := len(matched)
			if offset < int64(total) {
				end := min(int(offset)+perPage, total)
				out.Traces = append(out.Traces, matched[offset:end]...)
			}
			out.PaginationInfo = types.NewPaginationInfo(total, page, perPage, len(out.Traces))
			return nil
		}

		total, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return err
		}
		docs, err := coll.Find(ctx, filter, &docdb.FindOptions{Sort: sortOrder, Skip: offset, Limit: int64(perPage)})
		if err != nil {
			return err
		}
		for _, d := range docs {
			out.Traces = append(out.Traces, traceFromRecord(s.ops.ProcessRecord(table, d)))
		}
		out.PaginationInfo = types.NewPaginationInfo(int(total), page, perPage, len(out.Traces))
		return nil
	})
	if err != nil {
		return types.PaginatedTraces{}, storeerrors.Wrap("STORAGE_GET_TRACES_FAILED", err,
			map[string]any{"name": args.Name, "scope": args.Scope, "page": page})
	}
	return out, nil
}

func (s *Store) check() error {
	if !s.caps.Supports(storage.CapTraces) {
		return storeerrors.NewUnsupportedError(string(storage.CapTraces))
	}
	return nil
}

func attributesMatch(attrs map[string]any, want map[string]string) bool {
	for k, v := range want {
		got, ok := attrs[k]
		if !ok {
			return false
		}
		s, isString := got.(string)
		if !isString || s != v {
			return false
		}
	}
	return true
}

func traceRecord(tr types.Trace) bson.M {
	rec := bson.M{
		"id":           tr.ID,
		"parentSpanId": tr.ParentSpanID,
		"traceId":      tr.TraceID,
		"name":         tr.Name,
		"scope":        tr.Scope,
		"kind":         int64(tr.Kind),
		"startTime":    tr.StartTime,
		"endTime":      tr.EndTime,
		"createdAt":    tr.CreatedAt,
	}
	if tr.Attributes != nil {
		rec["attributes"] = tr.Attributes
	}
	if tr.Status != nil {
		rec["status"] = tr.Status
	}
	if tr.Events != nil {
		rec["events"] = tr.Events
	}
	if tr.Links != nil {
		rec["links"] = tr.Links
	}
	if tr.Other != nil {
		rec["other"] = tr.Other
	}
	return rec
}

func traceFromRecord(rec bson.M) types.Trace {
	return types.Trace{
		ID:           storage.String(rec, "id"),
		ParentSpanID: storage.String(rec, "parentSpanId"),
		TraceID:      storage.String(rec, "traceId"),
		Name:         storage.String(rec, "name"),
		Scope:        storage.String(rec, "scope"),
		Kind:         int(storage.Int64(rec, "kind")),
		Attributes:   storage.Map(rec, "attributes"),
		Status:       storage.Map(rec, "status"),
		Events:       storage.Slice(rec, "events"),
		Links:        storage.Slice(rec, "links"),
		Other:        storage.Map(rec, "other"),
		StartTime:    storage.Int64(rec, "startTime"),
		EndTime:      storage.Int64(rec, "endTime"),
		CreatedAt:    storage.Time(rec, "createdAt"),
	}
}
