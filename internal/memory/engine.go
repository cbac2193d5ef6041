package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/blueberrycongee/convostore/internal/memory/embedding"
	"github.com/blueberrycongee/convostore/internal/memory/vector"
	"github.com/blueberrycongee/convostore/internal/resilience"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
)

// Engine orchestrates message persistence, working memory and semantic
// recall on top of a MessageStore.
type Engine struct {
	store    MessageStore
	embedder embedding.Embedder
	index    vector.Index
	cache    *EmbeddingCache
	locks    *resilience.KeyedMutex
	logger   *slog.Logger
	cfg      atomic.Pointer[Config]

	// indexes records vector indexes already created by this process.
	indexes  sync.Map
	indexing sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbedder sets the embedding provider used by semantic recall.
func WithEmbedder(e embedding.Embedder) Option {
	return func(en *Engine) { en.embedder = e }
}

// WithVectorIndex sets the vector index used by semantic recall.
func WithVectorIndex(idx vector.Index) Option {
	return func(en *Engine) { en.index = idx }
}

// WithEmbeddingCache replaces the default process-local cache.
func WithEmbeddingCache(c *EmbeddingCache) Option {
	return func(en *Engine) { en.cache = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(en *Engine) { en.logger = logger }
}

// New creates an Engine. Semantic recall requires both an embedder and a
// vector index.
func New(store MessageStore, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, storeerrors.NewConfigurationError("MEMORY_STORE_REQUIRED", "memory engine requires a message store")
	}
	e := &Engine{
		store:  store,
		locks:  resilience.NewKeyedMutex(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewEmbeddingCache(CacheConfig{Logger: e.logger})
	}
	if err := e.SetConfig(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// SetConfig replaces the engine configuration. In-flight calls keep the
// configuration they started with.
func (e *Engine) SetConfig(cfg Config) error {
	cfg = cfg.withDefaults()
	if cfg.SemanticRecall.Enabled && (e.embedder == nil || e.index == nil) {
		return storeerrors.NewConfigurationError("MEMORY_SEMANTIC_RECALL_UNCONFIGURED",
			"semantic recall requires an embedder and a vector index")
	}
	e.cfg.Store(&cfg)
	return nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// Store returns the underlying message store.
func (e *Engine) Store() MessageStore {
	return e.store
}

// Embedder returns the embedding provider, or nil when none is configured.
func (e *Engine) Embedder() embedding.Embedder {
	return e.embedder
}

// WaitIndexing blocks until every background indexing job started so far
// has finished.
func (e *Engine) WaitIndexing() {
	e.indexing.Wait()
}

// Close waits for indexing and releases the vector index.
func (e *Engine) Close() error {
	e.WaitIndexing()
	if e.index != nil {
		return e.index.Close()
	}
	return nil
}

func (e *Engine) SaveThread(ctx context.Context, thread types.Thread) (types.Thread, error) {
	return e.store.SaveThread(ctx, thread)
}

func (e *Engine) GetThreadByID(ctx context.Context, threadID string) (*types.Thread, error) {
	return e.store.GetThreadByID(ctx, threadID)
}

func (e *Engine) GetThreadsByResourceID(ctx context.Context, resourceID string, order types.ThreadSort) ([]types.Thread, error) {
	return e.store.GetThreadsByResourceID(ctx, resourceID, order)
}

func (e *Engine) GetThreadsByResourceIDPaginated(ctx context.Context, args types.GetThreadsArgs) (types.PaginatedThreads, error) {
	return e.store.GetThreadsByResourceIDPaginated(ctx, args)
}

func (e *Engine) UpdateThread(ctx context.Context, in types.UpdateThreadInput) (types.Thread, error) {
	return e.store.UpdateThread(ctx, in)
}

func (e *Engine) DeleteThread(ctx context.Context, threadID string) error {
	return e.store.DeleteThread(ctx, threadID)
}

// GetMessages applies the configured LastMessages when the selector leaves
// Last unset.
func (e *Engine) GetMessages(ctx context.Context, args types.GetMessagesArgs) ([]types.Message, error) {
	args.Selector = e.withDefaultLast(args.Selector)
	return e.store.GetMessages(ctx, args)
}

func (e *Engine) GetMessagesPaginated(ctx context.Context, args types.GetMessagesPaginatedArgs) (types.PaginatedMessages, error) {
	return e.store.GetMessagesPaginated(ctx, args)
}

func (e *Engine) GetMessagesByID(ctx context.Context, ids []string) ([]types.Message, error) {
	return e.store.GetMessagesByID(ctx, ids)
}

func (e *Engine) UpdateMessages(ctx context.Context, updates []types.MessageUpdate) ([]types.Message, error) {
	return e.store.UpdateMessages(ctx, updates)
}

func (e *Engine) DeleteMessages(ctx context.Context, ids []string) error {
	return e.store.DeleteMessages(ctx, ids)
}

func (e *Engine) GetResourceByID(ctx context.Context, resourceID string) (*types.Resource, error) {
	return e.store.GetResourceByID(ctx, resourceID)
}

func (e *Engine) SaveResource(ctx context.Context, resource types.Resource) (types.Resource, error) {
	return e.store.SaveResource(ctx, resource)
}

func (e *Engine) UpdateResource(ctx context.Context, in types.UpdateResourceInput) (types.Resource, error) {
	return e.store.UpdateResource(ctx, in)
}

// withDefaultLast fills an unset Last from LastMessages. A non-positive
// LastMessages leaves it unset, which selects the whole thread.
func (e *Engine) withDefaultLast(sel *types.MessageSelector) *types.MessageSelector {
	last := e.Config().LastMessages
	if (sel != nil && sel.Last != nil) || last <= 0 {
		return sel
	}
	out := types.MessageSelector{}
	if sel != nil {
		out = *sel
	}
	out.Last = types.LastN(last)
	return &out
}
