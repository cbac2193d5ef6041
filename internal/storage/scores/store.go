// Package scores stores scorer results and lists them by scorer, run or entity.
package scores

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/storage"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

const (
	table = storage.TableScorers

	// DefaultPerPage is the page size when none is requested.
	DefaultPerPage = 10
)

// ScorerQuery narrows GetScoresByScorerID. Empty fields match anything.
type ScorerQuery struct {
	ScorerID   string
	EntityID   string
	EntityType string
	Source     string
	Pagination types.PaginationArgs
}

// Store reads and writes scores.
type Store struct {
	ops    *storage.Operations
	caps   storage.Capabilities
	logger *slog.Logger
	now    func() time.Time
}

// New creates a score store. A nil logger uses slog.Default.
func New(ops *storage.Operations, caps storage.Capabilities, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{ops: ops, caps: caps, logger: logger.With("component", "score_store"), now: time.Now}
}

// SaveScore inserts a score, assigning an id and timestamps when missing.
func (s *Store) SaveScore(ctx context.Context, score types.Score) (types.Score, error) {
	if err := s.check(); err != nil {
		return types.Score{}, err
	}
	if score.ScorerID == "" {
		return types.Score{}, storeerrors.NewInvalidArgumentError("STORAGE_SAVE_SCORE_INVALID",
			"scorer id is required", nil)
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	if score.ID == "" {
		score.ID = uuid.NewString()
	}
	if score.CreatedAt.IsZero() {
		score.CreatedAt = now
	}
	if score.UpdatedAt.IsZero() {
		score.UpdatedAt = now
	}
	if err := s.ops.Insert(ctx, table, scoreRecord(score)); err != nil {
		return types.Score{}, storeerrors.Wrap("STORAGE_SAVE_SCORE_FAILED", err,
			map[string]any{"scorerId": score.ScorerID, "runId": score.RunID})
	}
	return score, nil
}

// GetScoreByID returns the score or nil when absent.
func (s *Store) GetScoreByID(ctx context.Context, id string) (*types.Score, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rec, err := s.ops.Load(ctx, table, bson.M{"id": id})
	if err != nil {
		return nil, storeerrors.Wrap("STORAGE_GET_SCORE_FAILED", err, map[string]any{"id": id})
	}
	if rec == nil {
		return nil, nil
	}
	score := scoreFromRecord(rec)
	return &score, nil
}

// GetScoresByScorerID lists a scorer's results newest first.
func (s *Store) GetScoresByScorerID(ctx context.Context, q ScorerQuery) (types.PaginatedScores, error) {
	filter := bson.M{"scorerId": q.ScorerID}
	if q.EntityID != "" {
		filter["entityId"] = q.EntityID
	}
	if q.EntityType != "" {
		filter["entityType"] = q.EntityType
	}
	if q.Source != "" {
		filter["source"] = q.Source
	}
	return s.list(ctx, "get_by_scorer", filter, q.Pagination)
}

// GetScoresByRunID lists the scores of one run newest first.
func (s *Store) GetScoresByRunID(ctx context.Context, runID string, pagination types.PaginationArgs) (types.PaginatedScores, error) {
	return s.list(ctx, "get_by_run", bson.M{"runId": runID}, pagination)
}

// GetScoresByEntityID lists the scores of one entity newest first.
func (s *Store) GetScoresByEntityID(ctx context.Context, entityID, entityType string, pagination types.PaginationArgs) (types.PaginatedScores, error) {
	return s.list(ctx, "get_by_entity", bson.M{"entityId": entityID, "entityType": entityType}, pagination)
}

func (s *Store) list(ctx context.Context, op string, filter bson.M, pagination types.PaginationArgs) (types.PaginatedScores, error) {
	if err := s.check(); err != nil {
		return types.PaginatedScores{}, err
	}
	page, perPage, offset := storage.Page(pagination.Page, pagination.PerPage, DefaultPerPage)
	filter = storage.DateRangeFilter(filter, "createdAt", pagination.DateRange)
	out := types.PaginatedScores{Scores: []types.Score{}}

	err := s.ops.Observe(ctx, table, op, func(ctx context.Context) error {
		coll, err := s.ops.Collection(ctx, table)
		if err != nil {
			return err
		}
		total, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return err
		}
		docs, err := coll.Find(ctx, filter, &docdb.FindOptions{
			Sort:  bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: 1}},
			Skip:  offset,
			Limit: int64(perPage),
		})
		if err != nil {
			return err
		}
		for _, d := range docs {
			out.Scores = append(out.Scores, scoreFromRecord(s.ops.ProcessRecord(table, d)))
		}
		out.PaginationInfo = types.NewPaginationInfo(int(total), page, perPage, len(out.Scores))
		return nil
	})
	if err != nil {
		return types.PaginatedScores{}, storeerrors.Wrap("STORAGE_LIST_SCORES_FAILED", err,
			map[string]any{"operation": op, "page": page})
	}
	return out, nil
}

func (s *Store) check() error {
	if !s.caps.Supports(storage.CapScores) {
		return storeerrors.NewUnsupportedError(string(storage.CapScores))
	}
	return nil
}

func scoreRecord(sc types.Score) bson.M {
	rec := bson.M{
		"id":         sc.ID,
		"scorerId":   sc.ScorerID,
		"traceId":    sc.TraceID,
		"runId":      sc.RunID,
		"score":      sc.Score,
		"reason":     sc.Reason,
		"entityType": sc.EntityType,
		"entityId":   sc.EntityID,
		"source":     sc.Source,
		"resourceId": sc.ResourceID,
		"threadId":   sc.ThreadID,
		"createdAt":  sc.CreatedAt,
		"updatedAt":  sc.UpdatedAt,
	}
	for field, v := range map[string]any{
		"scorer":               sc.Scorer,
		"preprocessStepResult": sc.PreprocessStepResult,
		"analyzeStepResult":    sc.AnalyzeStepResult,
		"metadata":             sc.Metadata,
		"additionalContext":    sc.AdditionalContext,
		"runtimeContext":       sc.RuntimeContext,
		"entity":               sc.Entity,
	} {
		if m, ok := v.(map[string]any); ok && m != nil {
			rec[field] = m
		}
	}
	if sc.Input != nil {
		rec["input"] = sc.Input
	}
	if sc.Output != nil {
		rec["output"] = sc.Output
	}
	return rec
}

func scoreFromRecord(rec bson.M) types.Score {
	return types.Score{
		ID:                   storage.String(rec, "id"),
		ScorerID:             storage.String(rec, "scorerId"),
		TraceID:              storage.String(rec, "traceId"),
		RunID:                storage.String(rec, "runId"),
		Scorer:               storage.Map(rec, "scorer"),
		PreprocessStepResult: storage.Map(rec, "preprocessStepResult"),
		AnalyzeStepResult:    storage.Map(rec, "analyzeStepResult"),
		Score:                storage.Float64(rec, "score"),
		Reason:               storage.String(rec, "reason"),
		Metadata:             storage.Map(rec, "metadata"),
		Input:                rec["input"],
		Output:               rec["output"],
		AdditionalContext:    storage.Map(rec, "additionalContext"),
		RuntimeContext:       storage.Map(rec, "runtimeContext"),
		EntityType:           storage.String(rec, "entityType"),
		EntityID:             storage.String(rec, "entityId"),
		Entity:               storage.Map(rec, "entity"),
		Source:               storage.String(rec, "source"),
		ResourceID:           storage.String(rec, "resourceId"),
		ThreadID:             storage.String(rec, "threadId"),
		CreatedAt:            storage.Time(rec, "createdAt"),
		UpdatedAt:            storage.Time(rec, "updatedAt"),
	}
}
