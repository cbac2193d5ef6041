package convostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blueberrycongee/convostore/internal/memory"
	"github.com/blueberrycongee/convostore/internal/storage"
	"github.com/blueberrycongee/convostore/internal/storage/evals"
	"github.com/blueberrycongee/convostore/internal/storage/memorystore"
	"github.com/blueberrycongee/convostore/internal/storage/scores"
	"github.com/blueberrycongee/convostore/internal/storage/traces"
	"github.com/blueberrycongee/convostore/internal/storage/workflows"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// Store is the entry point of the library. It shares one connection between
// the domain stores and owns the memory engine.
type Store struct {
	conn   *storage.Connector
	ops    *storage.Operations
	logger *slog.Logger

	messages  *memorystore.Store
	workflows *workflows.Store
	traces    *traces.Store
	scores    *scores.Store
	evals     *evals.Store
	memory    *memory.Engine
}

// New creates a Store. It validates the configuration but does not connect;
// the first operation does.
func New(opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	connCfg := storage.ConnectorConfig{
		URI:            cfg.URI,
		Database:       cfg.Database,
		MaxPoolSize:    cfg.MaxPoolSize,
		MinPoolSize:    cfg.MinPoolSize,
		ConnectTimeout: cfg.ConnectTimeout,
		AppName:        cfg.AppName,
		Handler:        cfg.Handler,
		Logger:         cfg.Logger,
	}
	if cfg.DB != nil {
		connCfg.Dialer = storage.StaticDialer(cfg.DB)
	}
	conn, err := storage.NewConnector(connCfg)
	if err != nil {
		return nil, err
	}
	ops := storage.NewOperations(conn, cfg.Logger)

	msgOpts := []memorystore.Option{
		memorystore.WithCapabilities(cfg.Capabilities),
		memorystore.WithLogger(cfg.Logger),
	}
	if cfg.Clock != nil {
		msgOpts = append(msgOpts, memorystore.WithClock(cfg.Clock))
	}
	s := &Store{
		conn:      conn,
		ops:       ops,
		logger:    cfg.Logger,
		messages:  memorystore.New(ops, msgOpts...),
		workflows: workflows.New(ops, cfg.Logger),
		traces:    traces.New(ops, cfg.Capabilities, cfg.Logger),
		scores:    scores.New(ops, cfg.Capabilities, cfg.Logger),
		evals:     evals.New(ops, cfg.Capabilities, cfg.Logger),
	}
	if cfg.Clock != nil {
		s.workflows.SetClock(cfg.Clock)
	}

	s.memory, err = s.NewMemory(cfg.Memory, memoryOptions(cfg)...)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("convostore initialized",
		"database", cfg.Database,
		"semantic_recall", cfg.Memory.SemanticRecall.Enabled,
		"working_memory", cfg.Memory.WorkingMemory.Enabled,
	)
	return s, nil
}

func memoryOptions(cfg *Config) []memory.Option {
	opts := []memory.Option{memory.WithLogger(cfg.Logger)}
	if cfg.Embedder != nil {
		opts = append(opts, memory.WithEmbedder(cfg.Embedder))
	}
	if cfg.VectorIndex != nil {
		opts = append(opts, memory.WithVectorIndex(cfg.VectorIndex))
	}
	if cfg.EmbeddingCache != nil {
		opts = append(opts, memory.WithEmbeddingCache(cfg.EmbeddingCache))
	}
	return opts
}

// NewMemory creates an additional memory engine over this store's messages,
// for example with a different working memory template or recall scope.
func (s *Store) NewMemory(cfg MemoryConfig, opts ...memory.Option) (*Memory, error) {
	return memory.New(s.messages, cfg, opts...)
}

// Memory returns the store's memory engine.
func (s *Store) Memory() *Memory {
	return s.memory
}

// Capabilities returns the backend capability set.
func (s *Store) Capabilities() storage.Capabilities {
	return s.messages.Capabilities()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Init creates the indexes of every table. It is safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	return s.ops.EnsureIndexes(ctx, storage.AllTables...)
}

// ClearTable deletes every document of table.
func (s *Store) ClearTable(ctx context.Context, table storage.TableName) error {
	return s.ops.ClearTable(ctx, table)
}

// Close waits for background indexing, then closes the vector index and the
// connection.
func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if err := s.memory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close memory: %w", err))
	}
	if err := s.conn.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	s.logger.Info("convostore closed")
	return errors.Join(errs...)
}

func (s *Store) SaveThread(ctx context.Context, thread Thread) (Thread, error) {
	return s.memory.SaveThread(ctx, thread)
}

func (s *Store) GetThreadByID(ctx context.Context, threadID string) (*Thread, error) {
	return s.memory.GetThreadByID(ctx, threadID)
}

func (s *Store) GetThreadsByResourceID(ctx context.Context, resourceID string, order types.ThreadSort) ([]Thread, error) {
	return s.memory.GetThreadsByResourceID(ctx, resourceID, order)
}

func (s *Store) GetThreadsByResourceIDPaginated(ctx context.Context, args types.GetThreadsArgs) (PaginatedThreads, error) {
	return s.memory.GetThreadsByResourceIDPaginated(ctx, args)
}

func (s *Store) UpdateThread(ctx context.Context, in types.UpdateThreadInput) (Thread, error) {
	return s.memory.UpdateThread(ctx, in)
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	return s.memory.DeleteThread(ctx, threadID)
}

// SaveMessages persists messages and schedules semantic indexing when
// enabled.
func (s *Store) SaveMessages(ctx context.Context, messages []Message) ([]Message, error) {
	return s.memory.SaveMessages(ctx, messages)
}

func (s *Store) GetMessages(ctx context.Context, args types.GetMessagesArgs) ([]Message, error) {
	return s.memory.GetMessages(ctx, args)
}

func (s *Store) GetMessagesPaginated(ctx context.Context, args types.GetMessagesPaginatedArgs) (PaginatedMessages, error) {
	return s.memory.GetMessagesPaginated(ctx, args)
}

func (s *Store) GetMessagesByID(ctx context.Context, ids []string) ([]Message, error) {
	return s.memory.GetMessagesByID(ctx, ids)
}

func (s *Store) UpdateMessages(ctx context.Context, updates []MessageUpdate) ([]Message, error) {
	return s.memory.UpdateMessages(ctx, updates)
}

func (s *Store) DeleteMessages(ctx context.Context, ids []string) error {
	return s.memory.DeleteMessages(ctx, ids)
}

func (s *Store) GetResourceByID(ctx context.Context, resourceID string) (*Resource, error) {
	return s.memory.GetResourceByID(ctx, resourceID)
}

func (s *Store) SaveResource(ctx context.Context, resource Resource) (Resource, error) {
	return s.memory.SaveResource(ctx, resource)
}

func (s *Store) UpdateResource(ctx context.Context, in types.UpdateResourceInput) (Resource, error) {
	return s.memory.UpdateResource(ctx, in)
}

func (s *Store) GetWorkingMemory(ctx context.Context, req WorkingMemoryRequest) (string, error) {
	return s.memory.GetWorkingMemory(ctx, req)
}

func (s *Store) UpdateWorkingMemory(ctx context.Context, upd WorkingMemoryUpdate) (memory.UpdateResult, error) {
	return s.memory.UpdateWorkingMemory(ctx, upd)
}

func (s *Store) PersistWorkflowSnapshot(ctx context.Context, run WorkflowRun) error {
	return s.workflows.PersistWorkflowSnapshot(ctx, run)
}

func (s *Store) LoadWorkflowSnapshot(ctx context.Context, workflowName, runID string) (map[string]any, error) {
	return s.workflows.LoadWorkflowSnapshot(ctx, workflowName, runID)
}

func (s *Store) GetWorkflowRuns(ctx context.Context, args types.GetWorkflowRunsArgs) (types.WorkflowRuns, error) {
	return s.workflows.GetWorkflowRuns(ctx, args)
}

func (s *Store) GetWorkflowRunByID(ctx context.Context, runID, workflowName string) (*WorkflowRun, error) {
	return s.workflows.GetWorkflowRunByID(ctx, runID, workflowName)
}

func (s *Store) BatchTraceInsert(ctx context.Context, traces []Trace) error {
	return s.traces.BatchTraceInsert(ctx, traces)
}

func (s *Store) GetTraces(ctx context.Context, args types.GetTracesArgs) ([]Trace, error) {
	return s.traces.GetTraces(ctx, args)
}

func (s *Store) GetTracesPaginated(ctx context.Context, args types.GetTracesArgs) (types.PaginatedTraces, error) {
	return s.traces.GetTracesPaginated(ctx, args)
}

func (s *Store) SaveScore(ctx context.Context, score Score) (Score, error) {
	return s.scores.SaveScore(ctx, score)
}

func (s *Store) GetScoreByID(ctx context.Context, id string) (*Score, error) {
	return s.scores.GetScoreByID(ctx, id)
}

func (s *Store) GetScoresByScorerID(ctx context.Context, q ScorerQuery) (types.PaginatedScores, error) {
	return s.scores.GetScoresByScorerID(ctx, q)
}

func (s *Store) GetScoresByRunID(ctx context.Context, runID string, pagination types.PaginationArgs) (types.PaginatedScores, error) {
	return s.scores.GetScoresByRunID(ctx, runID, pagination)
}

func (s *Store) GetScoresByEntityID(ctx context.Context, entityID, entityType string, pagination types.PaginationArgs) (types.PaginatedScores, error) {
	return s.scores.GetScoresByEntityID(ctx, entityID, entityType, pagination)
}

func (s *Store) SaveEval(ctx context.Context, row EvalRow) error {
	return s.evals.SaveEval(ctx, row)
}

func (s *Store) GetEvalsByAgentName(ctx context.Context, agentName string, typ types.EvalType) ([]EvalRow, error) {
	return s.evals.GetEvalsByAgentName(ctx, agentName, typ)
}

func (s *Store) GetEvals(ctx context.Context, args types.GetEvalsArgs) (types.PaginatedEvals, error) {
	return s.evals.GetEvals(ctx, args)
}
