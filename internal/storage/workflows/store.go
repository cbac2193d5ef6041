// Package workflows persists workflow run snapshots keyed by workflow name
// and run id.
package workflows

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

const table = storage.TableWorkflowSnapshots

// Store reads and writes workflow snapshots.
type Store struct {
	ops    *storage.Operations
	logger *slog.Logger
	now    func() time.Time
}

// New creates a workflow store. A nil logger uses slog.Default.
func New(ops *storage.Operations, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{ops: ops, logger: logger.With("component", "workflow_store"), now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// PersistWorkflowSnapshot stores the latest snapshot of a run. The first
// write sets createdAt; every write sets updatedAt.
func (s *Store) PersistWorkflowSnapshot(ctx context.Context, run types.WorkflowRun) error {
	if run.WorkflowName == "" || run.RunID == "" {
		return storeerrors.NewInvalidArgumentError("STORAGE_PERSIST_WORKFLOW_INVALID",
			"workflow name and run id are required", nil)
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	err := s.ops.Observe(ctx, table, "persist_snapshot", func(ctx context.Context) error {
		set := bson.M{"snapshot": run.Snapshot, "updatedAt": now}
		if run.ResourceID != "" {
			set["resourceId"] = run.ResourceID
		}
		doc, err := s.ops.SerializeJSONFields(table, set)
		if err != nil {
			return err
		}
		coll, err := s.ops.Collection(ctx, table)
		if err != nil {
			return err
		}
		_, err = coll.UpdateOne(ctx,
			bson.M{"workflowName": run.WorkflowName, "runId": run.RunID},
			bson.M{"$set": doc, "$setOnInsert": bson.M{"createdAt": createdAt}},
			true)
		return err
	})
	return storeerrors.Wrap("STORAGE_PERSIST_WORKFLOW_FAILED", err,
		map[string]any{"workflowName": run.WorkflowName, "runId": run.RunID})
}

// LoadWorkflowSnapshot returns the stored snapshot, or nil when the run is unknown.
func (s *Store) LoadWorkflowSnapshot(ctx context.Context, workflowName, runID string) (map[string]any, error) {
	rec, err := s.ops.Load(ctx, table, bson.M{"workflowName": workflowName, "runId": runID})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_LOAD_WORKFLOW_FAILED", err,
			map[string]any{"workflowName": workflowName, "runId": runID})
	}
	if rec == nil {
		return nil, nil
	}
	return storage.Map(rec, "snapshot"), nil
}

// GetWorkflowRuns lists runs newest first. Total counts every match
// regardless of Limit and Offset.
func (s *Store) GetWorkflowRuns(ctx context.Context, args types.GetWorkflowRunsArgs) (types.WorkflowRuns, error) {
	out := types.WorkflowRuns{Runs: []types.WorkflowRun{}}
	err := s.ops.Observe(ctx, table, "get_runs", func(ctx context.Context) error {
		filter := bson.M{}
		if args.WorkflowName != "" {
			filter["workflowName"] = args.WorkflowName
		}
		if args.ResourceID != "" {
			filter["resourceId"] = args.ResourceID
		}
		filter = storage.DateRangeFilter(filter, "createdAt", &types.DateRange{Start: args.FromDate, End: args.ToDate})

		coll, err := s.ops.Collection(ctx, table)
		if err != nil {
			return err
		}
		total, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return err
		}
		out.Total = int(total)

		opts := &docdb.FindOptions{Sort: bson.D{{Key: "createdAt", Value: -1}, {Key: "runId", Value: 1}}}
		if args.Limit > 0 {
			opts.Limit = int64(args.Limit)
			if args.Offset > 0 {
				opts.Skip = int64(args.Offset)
			}
		}
		docs, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		for _, d := range docs {
			out.Runs = append(out.Runs, runFromRecord(s.ops.ProcessRecord(table, d)))
		}
		return nil
	})
	if err != nil {
		return types.WorkflowRuns{}, storeerrors.Wrap("STORAGE_GET_WORKFLOW_RUNS_FAILED", err,
			map[string]any{"workflowName": args.WorkflowName})
	}
	return out, nil
}

// GetWorkflowRunByID returns one run, or nil when absent. An empty
// workflowName matches any workflow.
func (s *Store) GetWorkflowRunByID(ctx context.Context, runID, workflowName string) (*types.WorkflowRun, error) {
	keys := bson.M{"runId": runID}
	if workflowName != "" {
		keys["workflowName"] = workflowName
	}
	rec, err := s.ops.Load(ctx, table, keys)
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_GET_WORKFLOW_RUN_FAILED", err,
			map[string]any{"runId": runID, "workflowName": workflowName})
	}
	if rec == nil {
		return nil, nil
	}
	run := runFromRecord(rec)
	return &run, nil
}

func runFromRecord(rec bson.M) types.WorkflowRun {
	return types.WorkflowRun{
		WorkflowName: storage.String(rec, "workflowName"),
		RunID:        storage.String(rec, "runId"),
		ResourceID:   storage.String(rec, "resourceId"),
		Snapshot:     storage.Map(rec, "snapshot"),
		CreatedAt:    storage.Time(rec, "createdAt"),
		UpdatedAt:    storage.Time(rec, "updatedAt"),
	}
}
