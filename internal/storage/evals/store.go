// Package evals reads legacy evaluation records.
//
// Evals use snake_case field names, unlike the other tables.
package evals

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

const (
	table = storage.TableEvals

	// DefaultPerPage is the page size when none is requested.
	DefaultPerPage = 100
)

// Store reads and writes legacy evals.
type Store struct {
	ops    *storage.Operations
	caps   storage.Capabilities
	logger *slog.Logger
	now    func() time.Time
}

// New creates an eval store. A nil logger uses slog.Default.
func New(ops *storage.Operations, caps storage.Capabilities, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{ops: ops, caps: caps, logger: logger.With("component", "eval_store"), now: time.Now}
}

// SaveEval inserts one eval row.
func (s *Store) SaveEval(ctx context.Context, row types.EvalRow) error {
	if err := s.check(); err != nil {
		return err
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	}
	return storeerrors.Wrap("STORAGE_SAVE_EVAL_FAILED", s.ops.Insert(ctx, table, evalRecord(row)),
		map[string]any{"agentName": row.AgentName, "runId": row.RunID})
}

// GetEvalsByAgentName lists an agent's evals newest first, optionally only
// those from test runs or only live ones.
func (s *Store) GetEvalsByAgentName(ctx context.Context, agentName string, typ types.EvalType) ([]types.EvalRow, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []types.EvalRow
	err := s.ops.Observe(ctx, table, "get_by_agent", func(ctx context.Context) error {
		var err error
		out, err = s.findFiltered(ctx, bson.M{"agent_name": agentName}, typ)
		return err
	})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_GET_EVALS_BY_AGENT_FAILED", err,
			map[string]any{"agentName": agentName, "type": string(typ)})
	}
	return out, nil
}

// GetEvals returns one page of evals newest first.
func (s *Store) GetEvals(ctx context.Context, args types.GetEvalsArgs) (types.PaginatedEvals, error) {
	if err := s.check(); err != nil {
		return types.PaginatedEvals{}, err
	}
	page, perPage, offset := storage.Page(args.Page, args.PerPage, DefaultPerPage)
	out := types.PaginatedEvals{Evals: []types.EvalRow{}}

	err := s.ops.Observe(ctx, table, "get_evals", func(ctx context.Context) error {
		filter := bson.M{}
		if args.AgentName != "" {
			filter["agent_name"] = args.AgentName
		}
		filter = storage.DateRangeFilter(filter, "created_at", args.DateRange)

		// test_info is stored serialized, so the type split happens after
		// decoding.
		if args.Type != types.EvalTypeAll {
			rows, err := s.findFiltered(ctx, filter, args.Type)
			if err != nil {
				return err
			}
			if offset < int64(len(rows)) {
				end := min(int(offset)+perPage, len(rows))
				out.Evals = append(out.Evals, rows[offset:end]...)
			}
			out.PaginationInfo = types.NewPaginationInfo(len(rows), page, perPage, len(out.Evals))
			return nil
		}

		coll, err := s.ops.Collection(ctx, table)
		if err != nil {
			return err
		}
		total, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return err
		}
		docs, err := coll.Find(ctx, filter, &docdb.FindOptions{Sort: newestFirst, Skip: offset, Limit: int64(perPage)})
		if err != nil {
			return err
		}
		for _, d := range docs {
			out.Evals = append(out.Evals, evalFromRecord(s.ops.ProcessRecord(table, d)))
		}
		out.PaginationInfo = types.NewPaginationInfo(int(total), page, perPage, len(out.Evals))
		return nil
	})
	if err != nil {
		return types.PaginatedEvals{}, storeerrors.Wrap("STORAGE_GET_EVALS_FAILED", err,
			map[string]any{"agentName": args.AgentName, "page": page})
	}
	return out, nil
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (s *Store) findFiltered(ctx context.Context, filter bson.M, typ types.EvalType) ([]types.EvalRow, error) {
	coll, err := s.ops.Collection(ctx, table)
	if err != nil {
		return nil, err
	}
	docs, err := coll.Find(ctx, filter, &docdb.FindOptions{Sort: newestFirst})
	if err != nil {
		return nil, err
	}
	out := make([]types.EvalRow, 0, len(docs))
	for _, d := range docs {
		row := evalFromRecord(s.ops.ProcessRecord(table, d))
		switch typ {
		case types.EvalTypeTest:
			if !isTestRun(row) {
				continue
			}
		case types.EvalTypeLive:
			if isTestRun(row) {
				continue
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) check() error {
	if !s.caps.Supports(storage.CapLegacyEvals) {
		return storeerrors.NewUnsupportedError(string(storage.CapLegacyEvals))
	}
	return nil
}

// isTestRun reports whether the eval came from a test suite, marked by a
// test path in its test info.
func isTestRun(row types.EvalRow) bool {
	if row.TestInfo == nil {
		return false
	}
	_, ok := row.TestInfo["testPath"]
	return ok
}

func evalRecord(row types.EvalRow) bson.M {
	rec := bson.M{
		"agent_name":    row.AgentName,
		"input":         row.Input,
		"output":        row.Output,
		"result":        row.Result,
		"metric_name":   row.MetricName,
		"instructions":  row.Instructions,
		"run_id":        row.RunID,
		"global_run_id": row.GlobalRunID,
		"created_at":    row.CreatedAt,
	}
	if row.TestInfo != nil {
		rec["test_info"] = row.TestInfo
	}
	return rec
}

func evalFromRecord(rec bson.M) types.EvalRow {
	return types.EvalRow{
		AgentName:    storage.String(rec, "agent_name"),
		Input:        storage.String(rec, "input"),
		Output:       storage.String(rec, "output"),
		Result:       storage.Map(rec, "result"),
		MetricName:   storage.String(rec, "metric_name"),
		Instructions: storage.String(rec, "instructions"),
		RunID:        storage.String(rec, "run_id"),
		GlobalRunID:  storage.String(rec, "global_run_id"),
		TestInfo:     storage.Map(rec, "test_info"),
		CreatedAt:    storage.Time(rec, "created_at"),
	}
}
